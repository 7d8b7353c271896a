// Package protocol implements the overlay wire format: fixed-header framed
// messages over a TCP byte stream. A frame is a 4-byte ASCII type tag, a
// 4-byte big-endian payload length and exactly that many payload bytes.
package protocol

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"meshchat/internal/errors"
)

// FrameType is the 4-byte ASCII tag identifying a frame. The set is closed;
// dispatching code switches exhaustively over these values.
type FrameType string

const (
	TypeText         FrameType = "TEXT" // chat line, raw UTF-8
	TypeFileMeta     FrameType = "FMTA" // file offer metadata, JSON
	TypeFileData     FrameType = "FDAT" // file chunk, raw bytes
	TypeFileAccept   FrameType = "FACC" // accept a pending file offer, empty
	TypeFileDecline  FrameType = "FDEC" // decline a pending file offer, empty
	TypeNick         FrameType = "NICK" // nickname change, raw UTF-8
	TypePeerList     FrameType = "PERS" // roster gossip, JSON array
	TypeHeartbeat    FrameType = "BEAT" // keepalive, empty
	TypeConn         FrameType = "CONN" // handshake identity record, JSON
	TypeClearHistory FrameType = "CLRH" // clear chat history, empty
)

const (
	// HeaderSize is the fixed frame header length: 4 tag bytes + 4 length bytes.
	HeaderSize = 8

	// MaxFrameSize bounds the declared payload length. A frame claiming more
	// is treated as a protocol error rather than an allocation request.
	MaxFrameSize = 8 * 1024 * 1024
)

// Valid reports whether t is one of the closed set of frame types.
func (t FrameType) Valid() bool {
	switch t {
	case TypeText, TypeFileMeta, TypeFileData, TypeFileAccept, TypeFileDecline,
		TypeNick, TypePeerList, TypeHeartbeat, TypeConn, TypeClearHistory:
		return true
	}
	return false
}

// RequiresPayload reports whether a frame of this type must carry data.
// Receiving such a frame with an empty payload drops the connection.
func (t FrameType) RequiresPayload() bool {
	switch t {
	case TypeText, TypeFileMeta, TypeFileData, TypeNick, TypePeerList, TypeConn:
		return true
	}
	return false
}

// Frame is one complete type-tagged, length-prefixed protocol message.
// A nil or empty payload is valid for types that carry no data.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Encode serializes the frame into a single contiguous buffer so it can be
// handed to one Write call.
func (f Frame) Encode() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	copy(buf[:4], f.Type)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// ReadFrom reads exactly one frame from r. It returns io.EOF only when the
// stream closes cleanly before any header byte arrives; a stream that dies
// mid-frame yields a protocol error instead of a short read treated as
// success. A declared length of zero is a valid empty payload, not EOF.
func ReadFrom(r io.Reader) (Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, errors.NewProtocolError("read_header", "stream closed mid-header", err)
	}

	ftype := FrameType(header[:4])
	if !ftype.Valid() {
		return Frame{}, errors.NewProtocolError("read_header", "unknown frame type "+string(header[:4]), nil)
	}

	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxFrameSize {
		return Frame{}, errors.NewProtocolError("read_header", "declared payload exceeds frame limit", nil)
	}
	if length == 0 {
		return Frame{Type: ftype}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, errors.NewProtocolError("read_payload", "stream closed mid-payload", err)
	}

	return Frame{Type: ftype, Payload: payload}, nil
}

// ReadFrame reads one frame from conn, aborting if the connection sits idle
// past idleTimeout. Transport failures surfacing through the codec (resets,
// broken pipes, deadline expiry) are reclassified as network errors, with
// timeouts additionally tagged ErrTimeout; clean EOF passes through
// unchanged. Only genuine wire-format violations remain protocol errors.
func ReadFrame(conn net.Conn, idleTimeout time.Duration) (Frame, error) {
	if idleTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return Frame{}, errors.NewNetworkError("set_read_deadline", conn.RemoteAddr().String(), err)
		}
	}

	frame, err := ReadFrom(conn)
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if ne, ok := underlyingNetError(err); ok {
			if ne.Timeout() {
				return Frame{}, errors.NewNetworkError("read_frame", conn.RemoteAddr().String(), errors.ErrTimeout)
			}
			return Frame{}, errors.NewNetworkError("read_frame", conn.RemoteAddr().String(), ne)
		}
		return Frame{}, err
	}
	return frame, nil
}

// WriteFrame writes one frame to conn as a single buffer. net.Conn serializes
// concurrent Write calls, so a frame written here never interleaves with a
// frame written by another goroutine on the same connection.
func WriteFrame(conn net.Conn, ftype FrameType, payload []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return errors.NewNetworkError("set_write_deadline", conn.RemoteAddr().String(), err)
		}
	}

	buf := Frame{Type: ftype, Payload: payload}.Encode()
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return errors.NewNetworkError("write_frame", conn.RemoteAddr().String(), err)
		}
		if n == 0 {
			return errors.NewNetworkError("write_frame", conn.RemoteAddr().String(), errors.ErrClosed)
		}
		buf = buf[n:]
	}
	return nil
}

// underlyingNetError walks the wrap chain looking for a net.Error.
func underlyingNetError(err error) (net.Error, bool) {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			return ne, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
