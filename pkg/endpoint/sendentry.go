package endpoint

import (
	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
)

// SendEntry is a queued outbound datagram: the serialized wire bytes
// (including the kind prefix), cumulative transfer progress, the ENOBUFS
// retry counter, and an optional completion callback.
//
// The processed callback is a completion notice, never a delivery
// guarantee. It is invoked exactly once per entry that enters the queue:
// on successful send, on a drop-class error, or when the reconnect wrapper
// that owns the shared queue drains it on stop. An endpoint's own Terminate
// leaves queued entries in the queue.
type SendEntry struct {
	kind               protocol.Kind
	buffer             []byte
	bytesTransferred   int
	noBufferSpaceCount int
	processed          func()
	destination        Addr
}

// NewSendEntry builds an entry addressed to the connected peer.
func NewSendEntry(kind protocol.Kind, payload []byte, processed func()) *SendEntry {
	return &SendEntry{
		kind:      kind,
		buffer:    protocol.EncodeFrame(kind, payload),
		processed: processed,
	}
}

// NewSendEntryTo builds an entry addressed to an explicit peer path; the
// send pipeline uses sendto for such entries. Server-originated sends use
// this form.
func NewSendEntryTo(kind protocol.Kind, payload []byte, destination Addr, processed func()) *SendEntry {
	e := NewSendEntry(kind, payload, processed)
	e.destination = destination
	return e
}

// Kind returns the datagram kind tag.
func (e *SendEntry) Kind() protocol.Kind {
	return e.kind
}

// Buffer returns the full wire bytes including the kind prefix.
func (e *SendEntry) Buffer() []byte {
	return e.buffer
}

// MakeBuffer returns the not-yet-transferred tail of the wire bytes, the
// slice to hand to the next send call.
func (e *SendEntry) MakeBuffer() []byte {
	return e.buffer[e.bytesTransferred:]
}

// BytesTransferred returns the cumulative transfer progress.
func (e *SendEntry) BytesTransferred() int {
	return e.bytesTransferred
}

// AddBytesTransferred records progress from a send call.
func (e *SendEntry) AddBytesTransferred(n int) {
	if n < 0 {
		return
	}
	e.bytesTransferred += n
	if e.bytesTransferred > len(e.buffer) {
		e.bytesTransferred = len(e.buffer)
	}
}

// RestBytes returns how many wire bytes remain untransferred.
func (e *SendEntry) RestBytes() int {
	return len(e.buffer) - e.bytesTransferred
}

// TransferComplete reports whether the whole buffer has been accounted for.
func (e *SendEntry) TransferComplete() bool {
	return e.bytesTransferred == len(e.buffer)
}

// NoBufferSpaceCount returns how many ENOBUFS results this entry has seen.
func (e *SendEntry) NoBufferSpaceCount() int {
	return e.noBufferSpaceCount
}

// SetNoBufferSpaceCount overwrites the ENOBUFS counter.
func (e *SendEntry) SetNoBufferSpaceCount(n int) {
	e.noBufferSpaceCount = n
}

// IncrementNoBufferSpaceCount bumps the ENOBUFS counter.
func (e *SendEntry) IncrementNoBufferSpaceCount() {
	e.noBufferSpaceCount++
}

// Processed returns the completion callback, or nil.
func (e *SendEntry) Processed() func() {
	return e.processed
}

// Destination returns the explicit peer path for sendto entries; empty for
// entries addressed to the connected peer.
func (e *SendEntry) Destination() Addr {
	return e.destination
}

// markDropped accounts the remaining bytes as transferred so that
// TransferComplete holds and the entry leaves the queue.
func (e *SendEntry) markDropped() {
	e.bytesTransferred = len(e.buffer)
}
