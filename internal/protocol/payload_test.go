package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshchat/internal/errors"
)

func TestHelloRoundTrip(t *testing.T) {
	hello := Hello{ConnID: "6f1c2a", Nickname: "alice", ListenPort: 9001}

	data, err := EncodeHello(hello)
	require.NoError(t, err)

	decoded, err := DecodeHello(data)
	require.NoError(t, err)
	assert.Equal(t, hello, decoded)
}

func TestDecodeHelloRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json at all"},
		{"empty id", `{"conn_id":"","nickname":"a","listen_port":9000}`},
		{"missing id", `{"nickname":"a","listen_port":9000}`},
		{"zero port", `{"conn_id":"x","nickname":"a","listen_port":0}`},
		{"port too large", `{"conn_id":"x","nickname":"a","listen_port":70000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHello([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrProtocol))
		})
	}
}

func TestFileMetaRoundTrip(t *testing.T) {
	meta := FileMeta{Name: "report.pdf", Size: 1048576}

	data, err := EncodeFileMeta(meta)
	require.NoError(t, err)

	decoded, err := DecodeFileMeta(data)
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestDecodeFileMetaRejectsBadInput(t *testing.T) {
	_, err := DecodeFileMeta([]byte(`{"name":"","size":5}`))
	assert.True(t, errors.Is(err, errors.ErrProtocol))

	_, err = DecodeFileMeta([]byte(`{"name":"f.txt","size":-1}`))
	assert.True(t, errors.Is(err, errors.ErrProtocol))

	_, err = DecodeFileMeta([]byte(`{{{`))
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}

func TestPeerListRoundTrip(t *testing.T) {
	entries := []PeerEntry{
		{Host: "10.0.0.1", Port: 9000, Nick: "alice"},
		{Host: "10.0.0.2", Port: 9001, Nick: "bob"},
	}

	data, err := EncodePeerList(entries)
	require.NoError(t, err)

	decoded, err := DecodePeerList(data)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}

func TestDecodePeerListRejectsBadInput(t *testing.T) {
	_, err := DecodePeerList([]byte(`{"host":"x"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProtocol))
}
