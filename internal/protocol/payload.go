package protocol

import (
	"encoding/json"

	"meshchat/internal/errors"
)

// Hello is the CONN handshake payload. Both legs of a new connection
// exchange one before any other frame.
type Hello struct {
	ConnID     string `json:"conn_id"`
	Nickname   string `json:"nickname"`
	ListenPort int    `json:"listen_port"`
}

// FileMeta is the FMTA payload announcing a file offer. Size is advisory;
// the transfer completes when received bytes reach it.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// PeerEntry is one element of a PERS roster payload. Port is the peer's
// advertised listen port, never the ephemeral source port of a connection.
type PeerEntry struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Nick string `json:"nick"`
}

// EncodeHello serializes a handshake record.
func EncodeHello(h Hello) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, errors.NewProtocolError("encode_hello", "marshal failed", err)
	}
	return data, nil
}

// DecodeHello parses and validates a CONN payload.
func DecodeHello(data []byte) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(data, &h); err != nil {
		return Hello{}, errors.NewProtocolError("decode_hello", "unparseable handshake payload", err)
	}
	if h.ConnID == "" {
		return Hello{}, errors.NewProtocolError("decode_hello", "empty connection id", nil)
	}
	if h.ListenPort <= 0 || h.ListenPort > 65535 {
		return Hello{}, errors.NewProtocolError("decode_hello", "listen port out of range", nil)
	}
	return h, nil
}

// EncodeFileMeta serializes a file offer announcement.
func EncodeFileMeta(m FileMeta) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.NewProtocolError("encode_file_meta", "marshal failed", err)
	}
	return data, nil
}

// DecodeFileMeta parses and validates an FMTA payload.
func DecodeFileMeta(data []byte) (FileMeta, error) {
	var m FileMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return FileMeta{}, errors.NewProtocolError("decode_file_meta", "unparseable file metadata", err)
	}
	if m.Name == "" {
		return FileMeta{}, errors.NewProtocolError("decode_file_meta", "empty file name", nil)
	}
	if m.Size < 0 {
		return FileMeta{}, errors.NewProtocolError("decode_file_meta", "negative file size", nil)
	}
	return m, nil
}

// EncodePeerList serializes a roster snapshot.
func EncodePeerList(entries []PeerEntry) ([]byte, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, errors.NewProtocolError("encode_peer_list", "marshal failed", err)
	}
	return data, nil
}

// DecodePeerList parses a PERS payload.
func DecodePeerList(data []byte) ([]PeerEntry, error) {
	var entries []PeerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.NewProtocolError("decode_peer_list", "unparseable peer list", err)
	}
	return entries, nil
}
