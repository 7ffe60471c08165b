package endpoint

import (
	"bytes"
	"testing"

	"github.com/pqrs-org/go-local-datagram/pkg/protocol"
)

func TestSendEntryBufferHasKindPrefix(t *testing.T) {
	e := NewSendEntry(protocol.KindUserData, []byte{10, 20, 30}, nil)
	want := []byte{0x01, 10, 20, 30}
	if !bytes.Equal(e.Buffer(), want) {
		t.Errorf("buffer = %v, want %v", e.Buffer(), want)
	}
}

func TestSendEntryEmptyPayload(t *testing.T) {
	e := NewSendEntry(protocol.KindServerCheck, nil, nil)
	if len(e.Buffer()) != 1 {
		t.Errorf("buffer length = %d, want 1 (the kind prefix)", len(e.Buffer()))
	}
	if e.TransferComplete() {
		t.Error("fresh entry should not be transfer-complete")
	}
}

func TestSendEntryProgress(t *testing.T) {
	e := NewSendEntry(protocol.KindUserData, make([]byte, 9), nil)
	if got := e.RestBytes(); got != 10 {
		t.Fatalf("RestBytes = %d, want 10", got)
	}

	e.AddBytesTransferred(4)
	if got := len(e.MakeBuffer()); got != 6 {
		t.Errorf("MakeBuffer length = %d, want 6", got)
	}
	if e.TransferComplete() {
		t.Error("entry complete after partial transfer")
	}

	e.AddBytesTransferred(6)
	if !e.TransferComplete() {
		t.Error("entry not complete after full transfer")
	}
	if got := e.RestBytes(); got != 0 {
		t.Errorf("RestBytes = %d, want 0", got)
	}
}

func TestSendEntryTransferClamped(t *testing.T) {
	e := NewSendEntry(protocol.KindUserData, []byte{1}, nil)
	e.AddBytesTransferred(100)
	if got := e.BytesTransferred(); got != 2 {
		t.Errorf("BytesTransferred = %d, want clamped to 2", got)
	}
}

func TestSendEntryNoBufferSpaceCounter(t *testing.T) {
	e := NewSendEntry(protocol.KindUserData, nil, nil)
	for i := 0; i < 3; i++ {
		e.IncrementNoBufferSpaceCount()
	}
	if got := e.NoBufferSpaceCount(); got != 3 {
		t.Errorf("NoBufferSpaceCount = %d, want 3", got)
	}
}

func TestSendEntryDestination(t *testing.T) {
	e := NewSendEntry(protocol.KindUserData, nil, nil)
	if !e.Destination().Empty() {
		t.Error("plain entry should have no destination")
	}

	to := NewSendEntryTo(protocol.KindUserData, nil, NewAddr("/tmp/peer.sock"), nil)
	if got := to.Destination().Path(); got != "/tmp/peer.sock" {
		t.Errorf("destination = %q", got)
	}
}

func TestSendQueueFIFO(t *testing.T) {
	q := NewSendQueue()
	a := NewSendEntry(protocol.KindUserData, []byte{1}, nil)
	b := NewSendEntry(protocol.KindUserData, []byte{2}, nil)
	q.Push(a)
	q.Push(b)

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	if q.Front() != a {
		t.Error("Front should peek the first entry")
	}
	if q.PopFront() != a || q.PopFront() != b {
		t.Error("PopFront order mismatch")
	}
	if q.PopFront() != nil {
		t.Error("PopFront on empty queue should return nil")
	}
}

func TestSendQueueTakeAll(t *testing.T) {
	q := NewSendQueue()
	for i := 0; i < 5; i++ {
		q.Push(NewSendEntry(protocol.KindUserData, []byte{byte(i)}, nil))
	}
	entries := q.TakeAll()
	if len(entries) != 5 {
		t.Fatalf("TakeAll returned %d entries, want 5", len(entries))
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after TakeAll: %d", q.Len())
	}
	for i, e := range entries {
		if e.Buffer()[1] != byte(i) {
			t.Errorf("entry %d out of order", i)
		}
	}
}
