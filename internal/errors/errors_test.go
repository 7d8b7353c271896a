package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkError(t *testing.T) {
	operation := "dial"
	address := "127.0.0.1:9000"
	cause := errors.New("connection refused")

	err := NewNetworkError(operation, address, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), address)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "network error")
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestProtocolError(t *testing.T) {
	operation := "read_frame"
	message := "unknown frame type"
	cause := errors.New("bad tag")

	err := NewProtocolError(operation, message, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), message)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "protocol error")
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestProtocolErrorWithoutCause(t *testing.T) {
	err := NewProtocolError("decode_hello", "empty connection id", nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "decode_hello")
	assert.Contains(t, err.Error(), "empty connection id")
	assert.Nil(t, errors.Unwrap(err))
}

func TestFileSystemError(t *testing.T) {
	operation := "reserve_path"
	path := "downloads/f.txt"
	cause := errors.New("permission denied")

	err := NewFileSystemError(operation, path, cause)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), operation)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), cause.Error())
	assert.Contains(t, err.Error(), "file system error")
	assert.True(t, errors.Is(err, ErrFileSystem))
}

func TestValidationError(t *testing.T) {
	field := "peer_addr"
	value := "127.0.0.1:9000"
	reason := "cannot connect to self"

	err := NewValidationError(field, value, reason)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), field)
	assert.Contains(t, err.Error(), value)
	assert.Contains(t, err.Error(), reason)
	assert.Contains(t, err.Error(), "validation error")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestErrorWrappingChain(t *testing.T) {
	inner := NewProtocolError("decode_meta", "truncated payload", ErrTimeout)
	outer := NewNetworkError("dispatch", "10.0.0.2:9000", inner)

	assert.True(t, errors.Is(outer, ErrNetwork))
	assert.True(t, errors.Is(outer, ErrProtocol))
	assert.True(t, errors.Is(outer, ErrTimeout))
}

func TestIsAndAsReexports(t *testing.T) {
	err := NewNetworkError("read_frame", "10.0.0.2:9000", ErrTimeout)

	assert.True(t, Is(err, ErrNetwork))
	assert.True(t, Is(err, ErrTimeout))
	assert.False(t, Is(err, ErrProtocol))

	var netErr *NetworkError
	assert.True(t, As(err, &netErr))
	assert.Equal(t, "read_frame", netErr.Op)
}
