package qcore

//
// End-to-end Connection tests (spec.md §8 "Testable properties" seed
// scenarios): two Connections exchanging real, encrypted datagrams
// through Connect/Accept/ReceiveDatagram/DatagramsToSend, driven by a
// manually advanced clock rather than time.Now().
//

import (
	"net"
	"testing"
	"time"

	"github.com/bassosimone/qcore/internal/wire"
)

// fakeAddr is a minimal net.Addr for tests; no real socket exists in
// this sans-I/O package (spec.md §9).
type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

var (
	testClientAddr net.Addr = fakeAddr("198.51.100.1:5555")
	testServerAddr net.Addr = fakeAddr("198.51.100.2:4433")
)

// pumpHandshake exchanges datagrams between client and server,
// starting from the client's first pending flight (clientOut, already
// produced by the caller so it can also learn the initial destination
// connection ID for Accept), until both report HandshakeCompleted or
// it gives up after a generous number of rounds.
func pumpHandshake(t *testing.T, client, server *Connection, now time.Time, clientOut []Datagram) {
	t.Helper()

	var err error
	var clientDone, serverDone bool
	for round := 0; round < 8 && !(clientDone && serverDone); round++ {
		for _, dg := range clientOut {
			if err := server.ReceiveDatagram(dg.Data, testClientAddr, now); err != nil {
				t.Fatalf("server.ReceiveDatagram: %v", err)
			}
		}
		for {
			ev, ok := server.NextEvent()
			if !ok {
				break
			}
			if ev.Type == EventHandshakeCompleted {
				serverDone = true
			}
		}

		serverOut, err := server.DatagramsToSend(now)
		if err != nil {
			t.Fatalf("server.DatagramsToSend: %v", err)
		}
		for _, dg := range serverOut {
			if err := client.ReceiveDatagram(dg.Data, testServerAddr, now); err != nil {
				t.Fatalf("client.ReceiveDatagram: %v", err)
			}
		}
		for {
			ev, ok := client.NextEvent()
			if !ok {
				break
			}
			if ev.Type == EventHandshakeCompleted {
				clientDone = true
			}
		}

		clientOut, err = client.DatagramsToSend(now)
		if err != nil {
			t.Fatalf("client.DatagramsToSend: %v", err)
		}
	}

	if !clientDone {
		t.Fatal("client never observed HandshakeCompleted")
	}
	if !serverDone {
		t.Fatal("server never observed HandshakeCompleted")
	}
}

func newHandshakeTestConfigs(t *testing.T) (clientCfg, serverCfg *Config) {
	t.Helper()
	certDER, keyDER := mustNewServerCertificate(t, "example.test")
	clientCfg = &Config{ALPNProtocols: []string{"h3"}}
	serverCfg = &Config{
		ALPNProtocols: []string{"h3"},
		Certificate:   certDER,
		PrivateKey:    keyDER,
	}
	return clientCfg, serverCfg
}

// TestConnectAcceptHandshakeCompletes drives a full client/server
// handshake over real datagrams and checks both sides surface
// HandshakeCompleted with the negotiated ALPN protocol.
func TestConnectAcceptHandshakeCompletes(t *testing.T) {
	clientCfg, serverCfg := newHandshakeTestConfigs(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	client, err := Connect(clientCfg, testServerAddr, "example.test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	initialOut, err := client.DatagramsToSend(now)
	if err != nil {
		t.Fatalf("client.DatagramsToSend: %v", err)
	}
	if len(initialOut) == 0 {
		t.Fatal("client produced no Initial datagram")
	}
	initialDestConnID, err := PeekInitialDestConnectionID(initialOut[0].Data)
	if err != nil {
		t.Fatalf("PeekInitialDestConnectionID: %v", err)
	}

	server, err := Accept(serverCfg, initialDestConnID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	pumpHandshake(t, client, server, now, initialOut)
}

// TestHandshakeAndLocalCloseEmitsConnectionTerminated is the
// regression test for the local-close drain path: closing a
// connection that never received a peer CONNECTION_CLOSE must still
// surface ConnectionTerminated once the drain timer expires (spec.md
// §4.6 "close()" / draining).
func TestHandshakeAndLocalCloseEmitsConnectionTerminated(t *testing.T) {
	clientCfg, serverCfg := newHandshakeTestConfigs(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	client, err := Connect(clientCfg, testServerAddr, "example.test")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	initialOut, err := client.DatagramsToSend(now)
	if err != nil {
		t.Fatalf("client.DatagramsToSend: %v", err)
	}
	initialDestConnID, err := PeekInitialDestConnectionID(initialOut[0].Data)
	if err != nil {
		t.Fatalf("PeekInitialDestConnectionID: %v", err)
	}
	server, err := Accept(serverCfg, initialDestConnID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	pumpHandshake(t, client, server, now, initialOut)

	closeTime := now.Add(time.Second)
	if err := client.Close(NoError, nil, "bye"); err != nil {
		t.Fatalf("client.Close: %v", err)
	}
	closeOut, err := client.DatagramsToSend(closeTime)
	if err != nil {
		t.Fatalf("client.DatagramsToSend (close): %v", err)
	}
	if len(closeOut) != 1 {
		t.Fatalf("expected exactly one CONNECTION_CLOSE datagram, got %d", len(closeOut))
	}

	// Peer side: receiving the CONNECTION_CLOSE frame terminates
	// immediately (onPeerClose), no drain timer needed.
	if err := server.ReceiveDatagram(closeOut[0].Data, testClientAddr, closeTime); err != nil {
		t.Fatalf("server.ReceiveDatagram (close): %v", err)
	}
	serverEv, ok := server.NextEvent()
	if !ok || serverEv.Type != EventConnectionTerminated {
		t.Fatalf("server did not surface ConnectionTerminated on peer close")
	}
	if serverEv.ConnectionTerminated.ErrorCode != NoError {
		t.Errorf("server ConnectionTerminated code = %s, want NO_ERROR", serverEv.ConnectionTerminated.ErrorCode)
	}

	// Local side: nothing pushed yet, since the client closed locally
	// and nobody has told it the peer is gone.
	if _, ok := client.NextEvent(); ok {
		t.Fatal("client already surfaced ConnectionTerminated before its drain timer expired")
	}

	// Drain deadline is closeTime + 3*PTO; with no RTT samples PTO
	// defaults to 999ms, so 4s is comfortably past it.
	drainExpiry := closeTime.Add(4 * time.Second)
	client.HandleTimer(drainExpiry)

	clientEv, ok := client.NextEvent()
	if !ok || clientEv.Type != EventConnectionTerminated {
		t.Fatal("client did not surface ConnectionTerminated once its drain timer expired")
	}
	if clientEv.ConnectionTerminated.ErrorCode != NoError {
		t.Errorf("client ConnectionTerminated code = %s, want NO_ERROR", clientEv.ConnectionTerminated.ErrorCode)
	}

	// A further timer tick past the deadline must not re-push the event.
	client.HandleTimer(drainExpiry.Add(time.Second))
	if _, ok := client.NextEvent(); ok {
		t.Fatal("client surfaced ConnectionTerminated a second time")
	}
}

// TestOnStreamFrameFlowControlViolation is seed scenario 5 (spec.md
// §8): a STREAM frame whose data crosses the stream's local
// flow-control limit must close the connection with FLOW_CONTROL_ERROR,
// not a silently dropped or mis-coded error.
func TestOnStreamFrameFlowControlViolation(t *testing.T) {
	cfg := &Config{InitialMaxStreamDataLocal: 16}
	c := newConnection(cfg, true)

	// Stream 1 is server-initiated bidi: both sides can send/receive,
	// so the client accepts it as peer-initiated without a namespace
	// check getting in the way.
	frame := &wire.StreamFrame{
		StreamID: 1,
		Offset:   0,
		Data:     make([]byte, 17), // one byte past the 16-byte local limit
	}
	err := c.onStreamFrame(frame)
	if err == nil {
		t.Fatal("expected a flow-control error")
	}
	te, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if te.Code != FlowControlError {
		t.Errorf("code = %s, want FLOW_CONTROL_ERROR", te.Code)
	}
	if te.Reason != "Over stream data limit" {
		t.Errorf("reason = %q", te.Reason)
	}
}

// TestOnStreamFrameConnectionFlowControlViolation covers the
// aggregate connection-level limit: a stream frame that fits under its
// own stream's limit but pushes the connection total over InitialMaxData
// must also close with FLOW_CONTROL_ERROR.
func TestOnStreamFrameConnectionFlowControlViolation(t *testing.T) {
	cfg := &Config{
		InitialMaxStreamDataLocal: 1 << 20,
		InitialMaxData:            16,
	}
	c := newConnection(cfg, true)

	frame := &wire.StreamFrame{
		StreamID: 1,
		Offset:   0,
		Data:     make([]byte, 17),
	}
	err := c.onStreamFrame(frame)
	if err == nil {
		t.Fatal("expected a connection-level flow-control error")
	}
	te, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if te.Code != FlowControlError {
		t.Errorf("code = %s, want FLOW_CONTROL_ERROR", te.Code)
	}
}

// TestValidateStreamNamespaceRejectsWrongInitiator is the "Wrong
// stream initiator" STREAM_STATE_ERROR case (spec.md §4.6): a peer
// cannot reference a stream ID this endpoint would have opened itself
// unless this endpoint already opened it.
func TestValidateStreamNamespaceRejectsWrongInitiator(t *testing.T) {
	cfg := &Config{}
	c := newConnection(cfg, true) // client

	// Stream 0 is client-initiated; from the client's own point of
	// view that's this endpoint's namespace, and it has not opened any
	// bidi stream yet (nextStreamCountBidi == 0).
	err := c.validateStreamNamespace(0)
	if err == nil {
		t.Fatal("expected a STREAM_STATE_ERROR for an unopened self-initiated stream ID")
	}
	te, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if te.Code != StreamStateError {
		t.Errorf("code = %s, want STREAM_STATE_ERROR", te.Code)
	}
	if te.Reason != "Wrong stream initiator" {
		t.Errorf("reason = %q", te.Reason)
	}

	// Once the client has actually opened bidi stream 0 via
	// GetNextAvailableStreamID, referencing it is no longer a
	// namespace violation.
	if id := c.GetNextAvailableStreamID(false); id != 0 {
		t.Fatalf("GetNextAvailableStreamID = %d, want 0", id)
	}
	if err := c.validateStreamNamespace(0); err != nil {
		t.Errorf("validateStreamNamespace(0) after opening it: %v", err)
	}
}
