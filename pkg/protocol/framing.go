package protocol

import (
	"encoding/binary"
	"errors"
	"time"
)

// Frame layout on the wire:
//
//	[1B kind][payload...]
//
// Sending a zero-byte datagram returns ENOBUFS after a sleep/wake cycle on
// some platforms, so every datagram carries at least the kind byte. The tag
// doubles as the framing discriminator.
const FrameHeaderSize = 1

var (
	ErrEmptyDatagram = errors.New("local_datagram: empty datagram")
)

// EncodeFrame builds the wire bytes for a datagram of the given kind. The
// payload may be empty.
func EncodeFrame(kind Kind, payload []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(payload))
	frame[0] = byte(kind)
	copy(frame[FrameHeaderSize:], payload)
	return frame
}

// DecodeFrame splits a received datagram into its kind and payload. The
// returned payload aliases the input; callers that retain it must copy.
func DecodeFrame(datagram []byte) (Kind, []byte, error) {
	if len(datagram) < FrameHeaderSize {
		return 0, nil, ErrEmptyDatagram
	}
	return Kind(datagram[0]), datagram[FrameHeaderSize:], nil
}

// HeartbeatPayloadSize is the length of a heartbeat datagram's payload: the
// sender's advertised deadline as big-endian milliseconds.
const HeartbeatPayloadSize = 8

// EncodeHeartbeatDeadline serializes the deadline a heartbeat advertises.
func EncodeHeartbeatDeadline(deadline time.Duration) []byte {
	payload := make([]byte, HeartbeatPayloadSize)
	binary.BigEndian.PutUint64(payload, uint64(deadline.Milliseconds()))
	return payload
}

// DecodeHeartbeatDeadline parses a heartbeat payload. A heartbeat with no
// payload (or a short one) advertises no deadline; ok is false and deadline
// tracking stays disabled for that peer.
func DecodeHeartbeatDeadline(payload []byte) (time.Duration, bool) {
	if len(payload) < HeartbeatPayloadSize {
		return 0, false
	}
	ms := binary.BigEndian.Uint64(payload)
	if ms == 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
