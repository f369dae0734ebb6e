package flowcontrol

import "testing"

func TestSendBufferPendingRespectsMaxData(t *testing.T) {
	sb := NewSendBuffer(5)
	if err := sb.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	chunk, offset, fin := sb.Pending(1024)
	if string(chunk) != "hello" {
		t.Fatalf("Pending = %q, want %q", chunk, "hello")
	}
	if offset != 0 || fin {
		t.Fatalf("Pending offset/fin = %d/%v, want 0/false", offset, fin)
	}
	sb.Sent(uint64(len(chunk)))

	if !sb.IsBlocked() {
		t.Fatal("expected send buffer to be blocked at max_stream_data")
	}

	sb.SetMaxData(11)
	if sb.IsBlocked() {
		t.Fatal("expected send buffer to be unblocked after raising max_stream_data")
	}
	chunk, offset, _ = sb.Pending(1024)
	if string(chunk) != " world" || offset != 5 {
		t.Fatalf("Pending after raise = %q at %d, want %q at 5", chunk, offset, " world")
	}
}

func TestSendBufferWriteAfterCloseFails(t *testing.T) {
	sb := NewSendBuffer(100)
	if err := sb.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sb.Write([]byte("more")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestSendBufferAckedDropsFront(t *testing.T) {
	sb := NewSendBuffer(100)
	_ = sb.Write([]byte("0123456789"))
	sb.Sent(10)
	sb.Acked(0, 5)

	chunk, offset, _ := sb.Pending(1024)
	if len(chunk) != 0 {
		t.Fatalf("expected no pending bytes, got %q", chunk)
	}
	sb.Retransmit(5)
	chunk, offset, _ = sb.Pending(1024)
	if string(chunk) != "56789" || offset != 5 {
		t.Fatalf("Pending after retransmit = %q at %d, want %q at 5", chunk, offset, "56789")
	}
}

func TestRecvBufferContiguousPrefix(t *testing.T) {
	rb := NewRecvBuffer(1024)

	if err := rb.Write(5, []byte("world"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, fin := rb.Read()
	if len(data) != 0 || fin {
		t.Fatalf("expected nothing readable yet, got %q fin=%v", data, fin)
	}

	if err := rb.Write(0, []byte("hello"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, fin = rb.Read()
	if string(data) != "helloworld" || fin {
		t.Fatalf("Read = %q fin=%v, want helloworld/false", data, fin)
	}
}

func TestRecvBufferOverlappingWrites(t *testing.T) {
	rb := NewRecvBuffer(1024)
	_ = rb.Write(0, []byte("hello"), false)
	_ = rb.Write(3, []byte("lo world"), true)

	data, fin := rb.Read()
	if string(data) != "hello world" || !fin {
		t.Fatalf("Read = %q fin=%v, want %q/true", data, fin, "hello world")
	}
}

func TestRecvBufferRejectsOverLimit(t *testing.T) {
	rb := NewRecvBuffer(4)
	if err := rb.Write(0, []byte("hello"), false); err == nil {
		t.Fatal("expected flow control error")
	} else if _, ok := err.(*ErrFlowControl); !ok {
		t.Fatalf("expected *ErrFlowControl, got %T", err)
	}
}

func TestRecvBufferDataPastFinRejected(t *testing.T) {
	rb := NewRecvBuffer(1024)
	if err := rb.Write(0, []byte("hello"), true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := rb.Write(5, []byte("more"), false); err == nil {
		t.Fatal("expected final size error for data past FIN")
	} else if _, ok := err.(*ErrFinalSize); !ok {
		t.Fatalf("expected *ErrFinalSize, got %T", err)
	}
}

func TestConnectionFlowControlBlocks(t *testing.T) {
	cfc := NewConnectionFlowControl(10, 10)
	cfc.RecordSent(10)
	if !cfc.IsSendBlocked() {
		t.Fatal("expected connection flow control to be blocked")
	}
	cfc.SetSendMaxData(20)
	if cfc.IsSendBlocked() {
		t.Fatal("expected connection flow control to be unblocked after raise")
	}

	if err := cfc.RecordReceived(10); err != nil {
		t.Fatalf("RecordReceived: %v", err)
	}
	if err := cfc.RecordReceived(1); err == nil {
		t.Fatal("expected flow control error past recv max_data")
	}
}
