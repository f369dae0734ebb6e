package qcore

//
// Connection (spec.md §3 "Connection", §4.6 "Connection" operations)
//
// Connection is the sans-I/O QUIC state machine: it owns one TLS
// Driver, one packet-number space per epoch, the stream table, the
// connection-ID and network-path managers, and a single shared
// congestion controller (spec.md §4.6: "a single NewReno-like
// controller is assumed, shared across epochs"). Every method that
// needs wall-clock time takes it as a now time.Time parameter rather
// than calling time.Now() itself, so the whole state machine stays
// deterministic and host-driven (spec.md §9).
//

import (
	"fmt"
	"net"
	"time"

	"github.com/bassosimone/qcore/internal/ackhandler"
	"github.com/bassosimone/qcore/internal/flowcontrol"
	"github.com/bassosimone/qcore/internal/qtls"
	"github.com/bassosimone/qcore/internal/wire"
)

// maxCryptoFrameSize bounds how many CRYPTO-stream bytes one gather
// pass packs into a single CRYPTO frame.
const maxCryptoFrameSize = 1024

// Datagram is one UDP payload the host must send, and the path it was
// built for.
type Datagram struct {
	Data []byte
	Addr net.Addr
}

// epochState bundles everything specific to one encryption level: its
// crypto pair, its packet-number space's ack/loss trackers, and (since
// the handshake's CRYPTO stream has no natural home elsewhere) a
// repurposed flowcontrol send/receive buffer pair carrying CRYPTO
// bytes instead of STREAM bytes (spec.md §4.5's reassembly semantics
// apply identically: offset-ordered, no upper bound).
type epochState struct {
	epoch wire.Epoch

	pair *qtls.CryptoPair

	// pendingSendSecret/pendingRecvSecret accumulate until both
	// directions have arrived via the TLS driver's OnSecret callback,
	// at which point pair is built from them. Unused for Initial, whose
	// pair is derived directly from the connection ID instead.
	pendingSendSecret []byte
	pendingRecvSecret []byte
	suite             qtls.CipherSuite

	nextPN int64

	ackManager   *ackhandler.AckManager
	lossRecovery *ackhandler.LossRecovery

	cryptoSend *flowcontrol.SendBuffer
	cryptoRecv *flowcontrol.RecvBuffer

	// discarded marks an epoch whose keys have been dropped (handshake
	// confirmed discards INITIAL and HANDSHAKE per RFC 9001 §4.9); its
	// ack/loss state is no longer consulted.
	discarded bool

	// needsProbePing is set by a PTO expiry on the ONE_RTT epoch
	// (spec.md §4.6 loss recovery's probe requirement) and consumed by
	// gatherOneRTTFrames.
	needsProbePing bool

	// lastSentAt is when the most recent ack-eliciting packet went out
	// on this epoch, anchoring the PTO deadline (RFC 9002 §6.2.1).
	lastSentAt time.Time
}

func newEpochState(epoch wire.Epoch) *epochState {
	return &epochState{
		epoch:        epoch,
		ackManager:   ackhandler.NewAckManager(epoch),
		lossRecovery: ackhandler.NewLossRecovery(),
		cryptoSend:   flowcontrol.NewSendBuffer(1 << 62),
		cryptoRecv:   flowcontrol.NewRecvBuffer(1 << 62),
	}
}

// Connection is one QUIC connection's sans-I/O state (spec.md §3).
type Connection struct {
	cfg      *Config
	isClient bool
	logger   Logger
	qlog     QUICLogger

	// localCIDLen is the length of every connection ID this endpoint
	// issues (cid.go's issueHostCID always mints MaxConnectionIDLength
	// IDs), needed to parse incoming short headers.
	localCIDLen int

	tls    *qtls.Driver
	epochs map[wire.Epoch]*epochState

	cids  *cidManager
	paths *pathSet

	connFlow   *flowcontrol.ConnectionFlowControl
	congestion *ackhandler.CongestionController

	streams             map[uint64]*stream
	nextStreamCountBidi uint64
	nextStreamCountUni  uint64

	pendingPings         []uint64
	pendingPathResponses [][8]byte

	handshakeConfirmed bool

	events  eventQueue
	builder *packetBuilder

	// initialClientDCID is the client's randomly chosen destination CID
	// used only to derive the Initial secrets and as the very first
	// Initial packet's destination CID (RFC 9000 §7.2); the server
	// never issues this value as one of its own host CIDs.
	initialClientDCID wire.ConnectionID

	// retryToken holds the token carried by a Retry packet, to be
	// echoed on the client's next Initial flight (spec.md §8 seed
	// scenario 4).
	retryToken []byte

	// handshakeDoneSent is set once the server has queued its single
	// HANDSHAKE_DONE frame (RFC 9000 §19.20: sent exactly once).
	handshakeDoneSent bool

	// closing/draining state (spec.md §4.6 "close()")
	closing        bool
	closeCode      TransportErrorCode
	closeFrameType *uint64
	closeReason    string
	closeNeedsSend   bool
	closingSince     time.Time
	drainDeadline    time.Time
	drained          bool
	terminatedPushed bool
}

func newConnection(cfg *Config, isClient bool) *Connection {
	c := &Connection{
		cfg:         cfg,
		isClient:    isClient,
		logger:      cfg.logger(),
		qlog:        cfg.quicLogger(),
		localCIDLen: wire.MaxConnectionIDLength,
		epochs:      make(map[wire.Epoch]*epochState),
		cids:        newCIDManager(),
		paths:       newPathSet(),
		connFlow:    flowcontrol.NewConnectionFlowControl(cfg.initialMaxData(), cfg.initialMaxData()),
		congestion:  ackhandler.NewCongestionController(),
		streams:     make(map[uint64]*stream),
		builder:     newPacketBuilder(),
	}
	return c
}

func (c *Connection) epochState(e wire.Epoch) *epochState {
	es, ok := c.epochs[e]
	if !ok {
		es = newEpochState(e)
		c.epochs[e] = es
	}
	return es
}

func (c *Connection) transportParameters() *wire.TransportParameters {
	return &wire.TransportParameters{
		InitialMaxData:                 c.cfg.initialMaxData(),
		InitialMaxStreamDataBidiLocal:  c.cfg.initialMaxStreamDataLocal(),
		InitialMaxStreamDataBidiRemote: c.cfg.initialMaxStreamDataLocal(),
		InitialMaxStreamDataUni:        c.cfg.initialMaxStreamDataLocal(),
		InitialMaxStreamsBidi:          c.cfg.initialMaxStreamsBidi(),
		InitialMaxStreamsUni:           c.cfg.initialMaxStreamsUni(),
		AckDelayExponent:               c.cfg.AckDelayExponent,
		MaxIdleTimeoutMs:               0,
	}
}

// Connect starts a client connection to remoteAddr (spec.md §4.6
// "connect(config, remote_addr) -> Connection").
func Connect(cfg *Config, remoteAddr net.Addr, serverName string) (*Connection, error) {
	c := newConnection(cfg, true)
	// The amplification limit (RFC 9000 §8.1) binds a server before it
	// has validated the client's address, not the client's own path to
	// the server it dials.
	path, _ := c.paths.pathFor(remoteAddr)
	path.Validated = true

	if _, err := c.cids.issueHostCID(); err != nil { // our own SCID, sequence 0
		return nil, err
	}

	initialDCID, err := randomConnectionID(wire.MinConnectionIDLength)
	if err != nil {
		return nil, err
	}
	c.initialClientDCID = initialDCID

	initialPair, err := qtls.NewInitialCryptoPair(initialDCID, true)
	if err != nil {
		return nil, err
	}
	c.epochState(wire.EpochInitial).pair = initialPair

	tlv, err := c.transportParameters().Encode()
	if err != nil {
		return nil, err
	}

	driver, err := qtls.NewDriver(qtls.DriverConfig{
		IsClient:                true,
		ServerName:               serverName,
		ALPNProtocols:            cfg.ALPNProtocols,
		QUICTransportParameters:  qtls.BuildQUICTransportParameters(tlv),
		OnSecret:                 c.onTLSSecret,
		KeyLog:                   qtls.NewKeyLogWriter(cfg.SecretsLogFile),
		ConnectionIdentifier:     []byte(initialDCID),
		Provider:                 cfg.cryptoProvider(),
	})
	if err != nil {
		return nil, err
	}
	c.tls = driver
	c.drainHandshakeOutput()

	return c, nil
}

// PeekInitialDestConnectionID extracts the destination connection ID a
// brand-new client Initial datagram carries, before a Connection
// exists for it. The host is responsible for demultiplexing inbound
// datagrams to the right Connection by connection ID (spec.md §9
// treats the socket and demux loop as outside this library's scope);
// this helper supplies the one piece of header parsing a host needs
// to decide "is this a new connection attempt" and to call Accept.
func PeekInitialDestConnectionID(datagram []byte) (wire.ConnectionID, error) {
	buf := wire.NewBuffer(datagram)
	hdr, err := wire.ParseHeader(buf, wire.MaxConnectionIDLength)
	if err != nil {
		return nil, err
	}
	if !hdr.IsLongHeader || hdr.Type != wire.LongHeaderTypeInitial {
		return nil, fmt.Errorf("qcore: not an initial packet")
	}
	return hdr.DestConnectionID, nil
}

// Accept creates a server-side connection for a freshly observed
// client Initial packet, whose client-chosen destination connection ID
// (obtained via PeekInitialDestConnectionID) is required up front to
// derive the Initial crypto pair (spec.md §4.2: "Initial keys derive
// from the client's initial destination CID").
func Accept(cfg *Config, initialDestConnID wire.ConnectionID) (*Connection, error) {
	c := newConnection(cfg, false)
	c.initialClientDCID = initialDestConnID

	initialPair, err := qtls.NewInitialCryptoPair(initialDestConnID, false)
	if err != nil {
		return nil, err
	}
	c.epochState(wire.EpochInitial).pair = initialPair

	if _, err := c.cids.issueHostCID(); err != nil { // our own SCID, sequence 0
		return nil, err
	}

	tlv, err := c.transportParameters().Encode()
	if err != nil {
		return nil, err
	}

	driver, err := qtls.NewDriver(qtls.DriverConfig{
		IsClient:                false,
		ALPNProtocols:            cfg.ALPNProtocols,
		Certificate:              cfg.Certificate,
		PrivateKey:               cfg.PrivateKey,
		QUICTransportParameters:  qtls.BuildQUICTransportParameters(tlv),
		OnSecret:                 c.onTLSSecret,
		KeyLog:                   qtls.NewKeyLogWriter(cfg.SecretsLogFile),
		ConnectionIdentifier:     []byte(initialDestConnID),
		Provider:                 cfg.cryptoProvider(),
	})
	if err != nil {
		return nil, err
	}
	c.tls = driver

	return c, nil
}

// onTLSSecret is the Driver.OnSecret callback: it accumulates the
// read/write secrets for a non-Initial epoch and, once both directions
// have arrived, builds that epoch's CryptoPair (spec.md §4.3's
// motivation for injecting this as a closure rather than a
// back-reference).
func (c *Connection) onTLSSecret(dir qtls.Direction, epoch wire.Epoch, suite qtls.CipherSuite, secret []byte) {
	es := c.epochState(epoch)
	es.suite = suite
	switch dir {
	case qtls.DirectionWrite:
		es.pendingSendSecret = secret
	case qtls.DirectionRead:
		es.pendingRecvSecret = secret
	}
	if es.pendingSendSecret == nil || es.pendingRecvSecret == nil {
		return
	}
	pair, err := qtls.NewCryptoPair(suite, es.pendingSendSecret, es.pendingRecvSecret)
	if err != nil {
		c.logger.Warnf("qcore: %s epoch crypto pair derivation failed: %v", epoch, err)
		return
	}
	es.pair = pair
}

// drainHandshakeOutput moves any bytes the TLS driver has queued into
// the matching epoch's CRYPTO send buffer, and reports the handshake
// completion event the first time driver.Done flips true.
func (c *Connection) drainHandshakeOutput() {
	for _, chunk := range c.tls.DrainEpochs() {
		es := c.epochState(chunk.Epoch)
		_ = es.cryptoSend.Write(chunk.Data)
	}
	if c.tls.Done && !c.handshakeConfirmed {
		c.handshakeConfirmed = true
		c.events.pushHandshakeCompleted(&HandshakeCompletedEvent{
			ALPNProtocol: c.tls.ALPNProtocol(),
		})
		c.epochState(wire.EpochInitial).discarded = true
		// The client's Finished is still queued at the Handshake level
		// here, so the client keeps those keys until HANDSHAKE_DONE.
		if !c.isClient {
			c.epochState(wire.EpochHandshake).discarded = true
		}
	}
}

// ---------------------------------------------------------------
// Receiving
// ---------------------------------------------------------------

// ReceiveDatagram feeds one just-arrived UDP payload into the
// connection (spec.md §4.6 "receive_datagram(data, from_addr, now)").
// Malformed or undecryptable individual packets are silently dropped
// per spec.md §7 ("packets that fail AEAD authentication are discarded,
// never torn down the connection"); only protocol violations detected
// after successful decryption close the connection.
func (c *Connection) ReceiveDatagram(data []byte, addr net.Addr, now time.Time) error {
	path, _ := c.paths.pathFor(addr)
	path.OnBytesReceived(len(data))

	buf := wire.NewBuffer(data)
	for !buf.Eof() {
		packetStart := buf.Pos()
		hdr, err := wire.ParseHeader(buf, c.localCIDLen)
		if err != nil {
			c.logger.Debugf("qcore: dropping packet: %v", err)
			return nil
		}

		if hdr.IsLongHeader && hdr.Version == 0 {
			c.handleVersionNegotiation(hdr)
			return nil
		}
		if hdr.IsLongHeader && hdr.Type == wire.LongHeaderTypeRetry {
			c.handleRetry(hdr)
			return nil
		}

		var packetEnd int
		if hdr.IsLongHeader {
			packetEnd = hdr.PacketNumberOffset + int(hdr.Length)
		} else {
			packetEnd = len(data)
		}
		if packetEnd > len(data) || packetEnd <= hdr.PacketNumberOffset {
			c.logger.Debug("qcore: dropping packet: inconsistent length")
			return nil
		}

		epoch := wire.EpochOneRTT
		if hdr.IsLongHeader {
			epoch = hdr.Type.Epoch()
		}
		es := c.epochs[epoch]
		if es == nil || es.pair == nil || es.discarded {
			c.logger.Debugf("qcore: dropping packet: no keys for %s epoch", epoch)
			buf.Seek(packetEnd)
			continue
		}

		if len(c.cids.peerCIDs) == 0 && hdr.IsLongHeader && len(hdr.SrcConnectionID) > 0 {
			c.cids.addPeerCID(0, hdr.SrcConnectionID)
		}

		// RFC 9001 §5.4.2: the header-protection sample always sits 4
		// bytes after the packet-number field's start, regardless of
		// the packet number's actual encoded length (which header
		// protection itself is about to reveal).
		sampleStart := hdr.PacketNumberOffset + maxPNSampleBytes
		if sampleStart+16 > len(data) {
			c.logger.Debug("qcore: dropping packet: too short to sample")
			buf.Seek(packetEnd)
			continue
		}
		pnWindow := data[hdr.PacketNumberOffset : hdr.PacketNumberOffset+maxPNSampleBytes]
		sample := data[sampleStart : sampleStart+16]
		pnLength, err := es.pair.Recv.RemoveHeaderProtection(hdr.IsLongHeader, &data[packetStart], pnWindow, sample)
		if err != nil {
			c.logger.Debugf("qcore: dropping packet: header protection: %v", err)
			buf.Seek(packetEnd)
			continue
		}

		header := data[packetStart : hdr.PacketNumberOffset+pnLength]
		ciphertext := data[hdr.PacketNumberOffset+pnLength : packetEnd]
		truncatedPN := pnWindow[:pnLength]
		pn := wire.DecodePacketNumber(truncatedPN, es.ackManager.LargestAcked())

		plaintext, err := es.pair.Recv.DecryptPayload(pn, header, ciphertext)
		if err != nil {
			c.logger.Debugf("qcore: dropping packet: %v", err)
			buf.Seek(packetEnd)
			continue
		}

		path.Validated = path.Validated || epoch != wire.EpochInitial

		ackEliciting, closeErr := c.handlePacketPayload(epoch, plaintext, addr, now)
		if duplicate := es.ackManager.OnPacketReceived(pn, now, ackEliciting); duplicate {
			// still processed above (idempotent frame handling is the
			// caller's problem in the general case); nothing further to
			// do here besides not double counting for ack purposes.
			_ = duplicate
		}
		if closeErr != nil {
			c.closeWithError(closeErr)
			return nil
		}

		buf.Seek(packetEnd)
	}
	return nil
}

// maxPNSampleBytes is the worst-case packet-number length (RFC 9000
// §17.1): header-protection removal always samples relative to this
// fixed width, since the true encoded length is only known afterward.
const maxPNSampleBytes = 4

func (c *Connection) handleVersionNegotiation(hdr *wire.Header) {
	if !c.isClient {
		return
	}
	c.logger.Info("qcore: received version negotiation")
	c.closeWithError(newTransportError(ProtocolViolation, "No compatible version"))
}

func (c *Connection) handleRetry(hdr *wire.Header) {
	if !c.isClient || len(hdr.Token) == 0 {
		return
	}
	// Adopt the Retry's source connection ID as the peer CID, re-derive
	// the Initial keys from it, and store the token for the next Initial
	// sent (spec.md §8 seed scenario 4). The first flight already sent
	// is not re-queued.
	c.cids.addPeerCID(0, hdr.SrcConnectionID)
	es := c.epochState(wire.EpochInitial)
	pair, err := qtls.NewInitialCryptoPair(hdr.SrcConnectionID, true)
	if err != nil {
		return
	}
	es.pair = pair
	c.retryToken = hdr.Token
}

// handlePacketPayload parses and dispatches every frame in a decrypted
// packet's payload, returning whether any frame was ack-eliciting and
// the first connection-closing error encountered, if any.
func (c *Connection) handlePacketPayload(epoch wire.Epoch, payload []byte, addr net.Addr, now time.Time) (ackEliciting bool, err error) {
	buf := wire.NewBuffer(payload)
	for !buf.Eof() {
		frame, ferr := wire.ParseFrame(buf)
		if ferr != nil {
			return ackEliciting, newTransportError(FrameEncodingError, ferr.Error())
		}
		if !frameAllowedInEpoch(frame.Type(), epoch) {
			return ackEliciting, newFrameTransportError(ProtocolViolation, uint64(frame.Type()), "Unexpected frame type")
		}
		if frame.Type() != wire.FrameTypePadding && frame.Type() != wire.FrameTypeAck && frame.Type() != wire.FrameTypeAckECN {
			ackEliciting = true
		}
		if derr := c.dispatchFrame(epoch, frame, addr, now); derr != nil {
			return ackEliciting, derr
		}
	}
	return ackEliciting, nil
}

// frameAllowedInEpoch enforces spec.md §4.6's per-epoch frame
// allow-list: INITIAL/HANDSHAKE only ever carry the handshake-bearing
// frames, ZERO_RTT excludes ACK (spec.md §9 resolved Open Question:
// "an ACK frame in a 0-RTT packet is a PROTOCOL_VIOLATION"), and
// ONE_RTT allows everything.
func frameAllowedInEpoch(ft wire.FrameType, epoch wire.Epoch) bool {
	switch epoch {
	case wire.EpochInitial, wire.EpochHandshake:
		switch ft {
		case wire.FrameTypePadding, wire.FrameTypePing, wire.FrameTypeAck, wire.FrameTypeAckECN,
			wire.FrameTypeCrypto, wire.FrameTypeConnectionClose:
			return true
		}
		return false
	case wire.EpochZeroRTT:
		if ft == wire.FrameTypeAck || ft == wire.FrameTypeAckECN || ft == wire.FrameTypeCrypto {
			return false
		}
		return true
	default: // ONE_RTT
		return true
	}
}

// dispatchFrame applies one already-epoch-validated frame's effect.
func (c *Connection) dispatchFrame(epoch wire.Epoch, frame wire.Frame, addr net.Addr, now time.Time) error {
	switch f := frame.(type) {
	case *wire.PaddingFrame, *wire.PingFrame:
		return nil

	case *wire.AckFrame:
		return c.onAckFrame(epoch, f, now)

	case *wire.CryptoFrame:
		return c.onCryptoFrame(epoch, f, now)

	case *wire.StreamFrame:
		return c.onStreamFrame(f)

	case *wire.ResetStreamFrame:
		return nil // abrupt stream termination: bookkeeping only, no application surface defined by spec.md

	case *wire.StopSendingFrame:
		return nil

	case *wire.MaxDataFrame:
		c.connFlow.SetSendMaxData(f.MaximumData)
		return nil

	case *wire.MaxStreamDataFrame:
		if s, ok := c.streams[uint64(f.StreamID)]; ok && s.send != nil {
			s.send.SetMaxData(f.MaximumData)
		}
		return nil

	case *wire.MaxStreamsFrame:
		return nil // peer raising our stream-creation limit: no local counter tracks this yet

	case *wire.DataBlockedFrame, *wire.StreamDataBlockedFrame, *wire.StreamsBlockedFrame:
		c.logger.Debug("qcore: peer reports send-blocked")
		return nil

	case *wire.NewConnectionIDFrame:
		c.cids.addPeerCID(f.SequenceNumber, f.ConnectionID)
		if f.RetirePriorTo > 0 {
			c.cids.retireBelow(f.RetirePriorTo)
		}
		return nil

	case *wire.RetireConnectionIDFrame:
		var active uint64
		if len(c.cids.hostCIDs) > 0 {
			active = c.cids.hostCIDs[0].SequenceNumber
		}
		return c.cids.retireHostCID(f.SequenceNumber, active)

	case *wire.PathChallengeFrame:
		c.pendingPathResponses = append(c.pendingPathResponses, f.Data)
		return nil

	case *wire.PathResponseFrame:
		path, _ := c.paths.pathFor(addr)
		if matched := path.onPathResponse(f.Data); matched {
			c.paths.promote(path)
		} else {
			return newTransportError(ProtocolViolation, "Unsolicited path response")
		}
		return nil

	case *wire.NewTokenFrame:
		return nil

	case *wire.ConnectionCloseFrame:
		c.onPeerClose(f)
		return nil

	case *wire.HandshakeDoneFrame:
		if !c.isClient {
			return newFrameTransportError(ProtocolViolation, uint64(wire.FrameTypeHandshakeDone), "Unexpected frame type")
		}
		c.handshakeConfirmed = true
		c.epochState(wire.EpochHandshake).discarded = true
		return nil

	default:
		return newTransportError(InternalError, "unhandled frame type")
	}
}

func (c *Connection) onAckFrame(epoch wire.Epoch, f *wire.AckFrame, now time.Time) error {
	es := c.epochs[epoch]
	if es == nil {
		return nil
	}
	ranges := make([]ackhandler.AckRange, len(f.Ranges))
	for i, r := range f.Ranges {
		ranges[i] = ackhandler.AckRange{Smallest: r.Smallest, Largest: r.Largest}
	}
	ackDelay := time.Duration(f.AckDelay) * time.Microsecond
	_, newlyLost := es.lossRecovery.OnAckReceived(ranges, ackDelay, now)
	for _, lost := range newlyLost {
		if lost.OnLost != nil {
			lost.OnLost()
		}
	}
	return nil
}

func (c *Connection) onCryptoFrame(epoch wire.Epoch, f *wire.CryptoFrame, now time.Time) error {
	es := c.epochState(epoch)
	if err := es.cryptoRecv.Write(f.Offset, f.Data, false); err != nil {
		return newTransportError(CryptoBufferExceeded, err.Error())
	}
	data, _ := es.cryptoRecv.Read()
	if len(data) == 0 {
		return nil
	}
	if err := c.tls.Feed(data); err != nil {
		if ae, ok := err.(*qtls.AlertError); ok {
			return &CryptoError{Alert: ae.Alert, Reason: ae.Reason}
		}
		return &CryptoError{Alert: 80 /* internal_error */, Reason: err.Error()}
	}
	c.drainHandshakeOutput()
	return nil
}

func (c *Connection) onStreamFrame(f *wire.StreamFrame) error {
	id := uint64(f.StreamID)
	s, ok := c.streams[id]
	if !ok {
		if err := c.validateStreamNamespace(id); err != nil {
			return err
		}
		s = newStream(id, c.isClient, c.cfg.initialMaxStreamDataLocal(), c.cfg.initialMaxStreamDataLocal())
		c.streams[id] = s
	}
	if err := s.OnStreamFrame(f.Offset, f.Data, f.Fin); err != nil {
		return toStreamError(err)
	}
	if err := c.connFlow.RecordReceived(uint64(len(f.Data))); err != nil {
		return newTransportError(FlowControlError, "Over stream data limit")
	}
	if data, fin := s.recv.Read(); len(data) > 0 || fin {
		c.events.pushStreamDataReceived(id, data, fin)
	}
	return nil
}

func toStreamError(err error) error {
	switch err.(type) {
	case *flowcontrol.ErrFlowControl:
		return newTransportError(FlowControlError, "Over stream data limit")
	case *flowcontrol.ErrFinalSize:
		return newTransportError(FinalSizeError, err.Error())
	default:
		return newTransportError(InternalError, err.Error())
	}
}

// validateStreamNamespace implements spec.md §4.6's "Wrong stream
// initiator" STREAM_STATE_ERROR: a peer cannot reference a stream ID
// whose initiator bit claims it was opened by this endpoint unless
// this endpoint actually opened it already (tracked by the
// nextStreamCountBidi/Uni counters that back GetNextAvailableStreamID).
func (c *Connection) validateStreamNamespace(id uint64) error {
	peerInitiated := streamIsClientInitiated(id) != c.isClient
	if peerInitiated {
		return nil
	}
	index := id / 4
	var opened uint64
	if streamIsBidirectional(id) {
		opened = c.nextStreamCountBidi
	} else {
		opened = c.nextStreamCountUni
	}
	if index >= opened {
		return streamDirectionError("Wrong stream initiator")
	}
	return nil
}

func (c *Connection) onPeerClose(f *wire.ConnectionCloseFrame) {
	if c.closing {
		return
	}
	code := TransportErrorCode(f.ErrorCode)
	var ft *uint64
	if f.FrameType_ != 0 {
		v := f.FrameType_
		ft = &v
	}
	c.closing = true
	c.closeCode = code
	c.closeFrameType = ft
	c.closeReason = f.ReasonPhrase
	c.closeNeedsSend = false
	c.terminatedPushed = true
	c.events.pushConnectionTerminated(code, ft, f.ReasonPhrase)
}

// ---------------------------------------------------------------
// Closing / draining
// ---------------------------------------------------------------

func (c *Connection) closeWithError(err error) {
	if c.closing {
		return
	}
	code, reason := toTransportError(err)
	c.beginClosing(code, nil, reason)
}

func (c *Connection) beginClosing(code TransportErrorCode, frameType *uint64, reason string) {
	if c.closing {
		return
	}
	c.closing = true
	c.closeCode = code
	c.closeFrameType = frameType
	c.closeReason = reason
	c.closeNeedsSend = true
}

// Close begins the connection-closing handshake (spec.md §4.6
// "close(code, frame_type, reason)"). It is idempotent: subsequent
// calls after the first are no-ops, matching spec.md §5's requirement
// that close() never panics or errors on a connection already closing.
// It intentionally takes no now parameter (the draining timer starts
// lazily, the next time a now-bearing method runs).
func (c *Connection) Close(code TransportErrorCode, frameType *uint64, reason string) error {
	c.beginClosing(code, frameType, reason)
	return nil
}

func (c *Connection) ensureClosingTimerStarted(now time.Time) {
	if !c.closing || !c.closingSince.IsZero() {
		return
	}
	c.closingSince = now
	pto := c.highestEpochPTO()
	c.drainDeadline = now.Add(3 * pto)
}

func (c *Connection) highestEpochPTO() time.Duration {
	for _, epoch := range []wire.Epoch{wire.EpochOneRTT, wire.EpochHandshake, wire.EpochInitial} {
		if es, ok := c.epochs[epoch]; ok && es.pair != nil && !es.discarded {
			return es.lossRecovery.PTOTimeout()
		}
	}
	return 999 * time.Millisecond
}

// ---------------------------------------------------------------
// Sending
// ---------------------------------------------------------------

// frameIntent is one frame queued for the next sealed packet, plus the
// side effects to run once the packet carrying it is acked or lost
// (spec.md §4.6 "re-enqueue the semantic intent" on loss).
type frameIntent struct {
	frame        wire.Frame
	onAcked      func()
	onLost       func()
	ackEliciting bool
}

// DatagramsToSend drains and seals every pending frame into one or
// more datagrams (spec.md §4.6 "datagrams_to_send(now) ->
// List[Datagram]").
func (c *Connection) DatagramsToSend(now time.Time) ([]Datagram, error) {
	c.ensureClosingTimerStarted(now)

	var datagrams []Datagram
	path := c.paths.active
	if path == nil {
		return nil, nil
	}

	if c.closing {
		dg, err := c.sealCloseDatagram(path, now)
		if err != nil {
			return nil, err
		}
		if dg != nil {
			datagrams = append(datagrams, *dg)
		}
		return datagrams, nil
	}

	for _, epoch := range []wire.Epoch{wire.EpochInitial, wire.EpochHandshake, wire.EpochZeroRTT, wire.EpochOneRTT} {
		es := c.epochs[epoch]
		if es == nil || es.pair == nil || es.discarded {
			continue
		}
		intents := c.gatherFrames(epoch, es, now)
		if len(intents) == 0 {
			continue
		}
		dg, err := c.sealIntents(epoch, es, path, intents, now)
		if err != nil {
			return nil, err
		}
		if dg != nil {
			datagrams = append(datagrams, *dg)
		}
	}
	return datagrams, nil
}

func (c *Connection) gatherFrames(epoch wire.Epoch, es *epochState, now time.Time) []frameIntent {
	var intents []frameIntent
	intents = append(intents, c.gatherAckFrame(es, now)...)
	intents = append(intents, c.gatherCryptoFrames(es)...)
	if epoch == wire.EpochOneRTT {
		intents = append(intents, c.gatherOneRTTFrames(now)...)
	}
	if epoch == wire.EpochInitial && es.needsProbePing {
		es.needsProbePing = false
		intents = append(intents, frameIntent{frame: &wire.PingFrame{}, ackEliciting: true})
	}
	return intents
}

func (c *Connection) gatherAckFrame(es *epochState, now time.Time) []frameIntent {
	if !es.ackManager.ShouldSendAck() {
		return nil
	}
	ranges := es.ackManager.PendingRanges()
	if len(ranges) == 0 {
		return nil
	}
	wireRanges := make([]wire.AckRange, len(ranges))
	for i, r := range ranges {
		wireRanges[i] = wire.AckRange{Smallest: r.Smallest, Largest: r.Largest}
	}
	f := &wire.AckFrame{
		LargestAcked: es.ackManager.LargestAcked(),
		AckDelay:     uint64(es.ackManager.AckDelay(now) / time.Microsecond),
		Ranges:       wireRanges,
	}
	es.ackManager.OnAckSent()
	return []frameIntent{{frame: f, ackEliciting: false}}
}

func (c *Connection) gatherCryptoFrames(es *epochState) []frameIntent {
	var intents []frameIntent
	for {
		data, offset, _ := es.cryptoSend.Pending(maxCryptoFrameSize)
		if len(data) == 0 {
			return intents
		}
		chunk := append([]byte(nil), data...)
		f := &wire.CryptoFrame{Offset: offset, Data: chunk}
		n := uint64(len(chunk))
		es.cryptoSend.Sent(n)
		intents = append(intents, frameIntent{
			frame: f,
			onAcked: func() {
				es.cryptoSend.Acked(offset, n)
			},
			onLost: func() {
				es.cryptoSend.Retransmit(offset)
			},
			ackEliciting: true,
		})
	}
}

func (c *Connection) gatherOneRTTFrames(now time.Time) []frameIntent {
	var intents []frameIntent

	for _, uid := range c.pendingPings {
		uid := uid
		intents = append(intents, frameIntent{
			frame:        &wire.PingFrame{},
			ackEliciting: true,
			onAcked: func() {
				c.events.pushPingAcknowledged(uid)
			},
		})
	}
	c.pendingPings = nil

	for _, data := range c.pendingPathResponses {
		intents = append(intents, frameIntent{frame: &wire.PathResponseFrame{Data: data}, ackEliciting: true})
	}
	c.pendingPathResponses = nil

	for _, hc := range c.cids.hostCIDs {
		if hc.Announced {
			continue
		}
		hc.Announced = true
		intents = append(intents, frameIntent{
			frame: &wire.NewConnectionIDFrame{
				SequenceNumber:      hc.SequenceNumber,
				ConnectionID:        hc.ID,
				StatelessResetToken: hc.StatelessResetToken,
			},
			ackEliciting: true,
		})
		c.events.pushConnectionIDIssued(hc.ID)
	}

	if c.handshakeConfirmed && !c.isClient && !c.handshakeDoneSent {
		c.handshakeDoneSent = true
		intents = append(intents, frameIntent{frame: &wire.HandshakeDoneFrame{}, ackEliciting: true})
	}

	for id, s := range c.streams {
		if s.send == nil {
			continue
		}
		data, offset, fin := s.send.Pending(maxCryptoFrameSize)
		if len(data) == 0 && !fin {
			continue
		}
		id, data := id, append([]byte(nil), data...)
		n := uint64(len(data))
		s.send.Sent(n)
		c.connFlow.RecordSent(n)
		intents = append(intents, frameIntent{
			frame: &wire.StreamFrame{StreamID: int64(id), Offset: offset, Data: data, Fin: fin},
			onAcked: func() {
				s.send.Acked(offset, n)
			},
			onLost: func() {
				s.send.Retransmit(offset)
			},
			ackEliciting: true,
		})
	}

	es := c.epochState(wire.EpochOneRTT)
	if es.needsProbePing {
		es.needsProbePing = false
		intents = append(intents, frameIntent{frame: &wire.PingFrame{}, ackEliciting: true})
	}

	return intents
}

// estimatedFrameSize over-approximates a frame's encoded size so
// encodeFrames can size its fixed-capacity Buffer up front; frames
// carrying caller-supplied payloads (CRYPTO/STREAM/NEW_CONNECTION_ID/
// CONNECTION_CLOSE) dominate the budget, so those are sized off their
// actual payload length plus a flat header allowance.
func estimatedFrameSize(f wire.Frame) int {
	switch v := f.(type) {
	case *wire.CryptoFrame:
		return 16 + len(v.Data)
	case *wire.StreamFrame:
		return 24 + len(v.Data)
	case *wire.AckFrame:
		return 24 + 16*len(v.Ranges)
	case *wire.NewConnectionIDFrame:
		return 24 + len(v.ConnectionID)
	case *wire.ConnectionCloseFrame:
		return 32 + len(v.ReasonPhrase)
	default:
		return 32
	}
}

func encodeFrames(frames []wire.Frame) ([]byte, error) {
	size := 0
	for _, f := range frames {
		size += estimatedFrameSize(f)
	}
	buf := wire.NewBufferCapacity(size + 64)
	for _, f := range frames {
		if err := f.Encode(buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (c *Connection) sealIntents(epoch wire.Epoch, es *epochState, path *NetworkPath, intents []frameIntent, now time.Time) (*Datagram, error) {
	frames := make([]wire.Frame, len(intents))
	for i, it := range intents {
		frames[i] = it.frame
	}
	plaintext, err := encodeFrames(frames)
	if err != nil {
		return nil, err
	}

	isLongHeader := epoch != wire.EpochOneRTT
	var headerType wire.LongHeaderType
	if isLongHeader {
		headerType, _ = wire.LongHeaderTypeForEpoch(epoch)
	}

	dcid := c.destinationCID()
	scid := c.sourceCID()
	version := wire.VersionDraft20
	var token []byte
	if epoch == wire.EpochInitial {
		dcid = c.initialOrActiveDCID()
		token = c.retryToken
	}

	if !path.CanSend(len(plaintext) + 64) {
		c.logger.Debug("qcore: amplification limit reached, deferring send")
		return nil, nil
	}

	pn := es.nextPN
	es.nextPN++

	c.builder.reset()
	ackEliciting := false
	for _, it := range intents {
		if it.ackEliciting {
			ackEliciting = true
		}
	}
	built, err := c.builder.appendPacket(
		epoch, isLongHeader, headerType, version, dcid, scid, token, false,
		pn, es.ackManager.LargestAcked(), plaintext, es.pair, ackEliciting,
	)
	if err != nil {
		return nil, err
	}
	if c.isClient && epoch == wire.EpochInitial {
		c.builder.padInitialDatagram()
	}

	sent := &ackhandler.SentPacket{
		PacketNumber: built.PacketNumber,
		SentAt:       now,
		Size:         built.Size,
		AckEliciting: built.AckEliciting,
		OnAcked:      combineCallbacks(intents, func(it frameIntent) func() { return it.onAcked }),
		OnLost:       combineCallbacks(intents, func(it frameIntent) func() { return it.onLost }),
	}
	if built.AckEliciting {
		es.lossRecovery.OnPacketSent(sent)
		es.lastSentAt = now
		c.congestion.OnPacketSent(built.Size)
	}

	out := append([]byte(nil), c.builder.datagram()...)
	path.OnBytesSent(len(out))
	return &Datagram{Data: out, Addr: path.RemoteAddr}, nil
}

func combineCallbacks(intents []frameIntent, pick func(frameIntent) func()) func() {
	var fns []func()
	for _, it := range intents {
		if f := pick(it); f != nil {
			fns = append(fns, f)
		}
	}
	if len(fns) == 0 {
		return nil
	}
	return func() {
		for _, f := range fns {
			f()
		}
	}
}

func (c *Connection) sealCloseDatagram(path *NetworkPath, now time.Time) (*Datagram, error) {
	if !c.closeNeedsSend {
		return nil, nil
	}
	c.closeNeedsSend = false

	epoch := wire.EpochInitial
	for _, e := range []wire.Epoch{wire.EpochOneRTT, wire.EpochHandshake, wire.EpochInitial} {
		if es, ok := c.epochs[e]; ok && es.pair != nil && !es.discarded {
			epoch = e
			break
		}
	}
	es := c.epochs[epoch]
	if es == nil || es.pair == nil {
		return nil, nil
	}

	frame := &wire.ConnectionCloseFrame{
		ErrorCode:    uint64(c.closeCode),
		ReasonPhrase: c.closeReason,
	}
	if c.closeFrameType != nil {
		frame.FrameType_ = *c.closeFrameType
	}

	plaintext, err := encodeFrames([]wire.Frame{frame})
	if err != nil {
		return nil, err
	}

	isLongHeader := epoch != wire.EpochOneRTT
	var headerType wire.LongHeaderType
	if isLongHeader {
		headerType, _ = wire.LongHeaderTypeForEpoch(epoch)
	}
	dcid := c.destinationCID()
	scid := c.sourceCID()
	if epoch == wire.EpochInitial {
		dcid = c.initialOrActiveDCID()
	}

	pn := es.nextPN
	es.nextPN++

	c.builder.reset()
	_, err = c.builder.appendPacket(epoch, isLongHeader, headerType, wire.VersionDraft20, dcid, scid, nil, false,
		pn, es.ackManager.LargestAcked(), plaintext, es.pair, false)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), c.builder.datagram()...)
	path.OnBytesSent(len(out))
	return &Datagram{Data: out, Addr: path.RemoteAddr}, nil
}

func (c *Connection) destinationCID() wire.ConnectionID {
	if p := c.cids.activeDestinationCID(); p != nil {
		return p.ID
	}
	return c.initialClientDCID
}

func (c *Connection) initialOrActiveDCID() wire.ConnectionID {
	if !c.isClient {
		return c.initialClientDCID
	}
	if p := c.cids.activeDestinationCID(); p != nil {
		return p.ID
	}
	return c.initialClientDCID
}

func (c *Connection) sourceCID() wire.ConnectionID {
	if len(c.cids.hostCIDs) == 0 {
		return nil
	}
	return c.cids.hostCIDs[0].ID
}

// ---------------------------------------------------------------
// Public operations (spec.md §4.6)
// ---------------------------------------------------------------

// SendStreamData queues data (and optionally FIN) for transmission on
// streamID, creating the stream if this is its first use.
func (c *Connection) SendStreamData(streamID uint64, data []byte, endStream bool) error {
	s, ok := c.streams[streamID]
	if !ok {
		s = newStream(streamID, c.isClient, c.cfg.initialMaxStreamDataLocal(), c.cfg.initialMaxStreamDataLocal())
		c.streams[streamID] = s
	}
	return s.Write(data, endStream)
}

// SendPing queues a PING frame tagged with uid, whose acknowledgement
// later surfaces as a PingAcknowledgedEvent.
func (c *Connection) SendPing(uid uint64) {
	c.pendingPings = append(c.pendingPings, uid)
}

// ChangeConnectionID rotates the active destination connection ID
// (spec.md §4.6 "change_connection_id()"). The old peer CID is marked
// retired locally only: no RETIRE_CONNECTION_ID frame is sent for it.
func (c *Connection) ChangeConnectionID() error {
	retired, ok := c.cids.changeConnectionID()
	if !ok {
		return fmt.Errorf("qcore: no spare peer connection ID available")
	}
	_ = retired
	return nil
}

// RequestKeyUpdate rolls the 1-RTT traffic secrets forward (spec.md
// §4.6 "request_key_update()", RFC 9001 §6).
func (c *Connection) RequestKeyUpdate() error {
	es := c.epochs[wire.EpochOneRTT]
	if es == nil || es.pair == nil {
		return fmt.Errorf("qcore: 1-RTT keys not yet established")
	}
	nextSend := qtls.UpdateTrafficSecret(es.suite, es.pendingSendSecret)
	nextRecv := qtls.UpdateTrafficSecret(es.suite, es.pendingRecvSecret)
	pair, err := qtls.NewCryptoPair(es.suite, nextSend, nextRecv)
	if err != nil {
		return err
	}
	es.pendingSendSecret, es.pendingRecvSecret = nextSend, nextRecv
	es.pair = pair
	return nil
}

// GetNextAvailableStreamID returns the next stream ID of the requested
// directionality this endpoint may open (spec.md §4.6
// "get_next_available_stream_id(is_unidirectional)").
func (c *Connection) GetNextAvailableStreamID(isUnidirectional bool) uint64 {
	var count uint64
	if isUnidirectional {
		count = c.nextStreamCountUni
		c.nextStreamCountUni++
	} else {
		count = c.nextStreamCountBidi
		c.nextStreamCountBidi++
	}
	return NextStreamID(c.isClient, isUnidirectional, count)
}

// HandleTimer runs whatever timer-driven work is due at now: PTO
// expiry per epoch, and drain-timer expiry while closing.
func (c *Connection) HandleTimer(now time.Time) {
	if c.closing {
		c.ensureClosingTimerStarted(now)
		if !c.drained && !now.Before(c.drainDeadline) {
			c.drained = true
			if !c.terminatedPushed {
				c.terminatedPushed = true
				c.events.pushConnectionTerminated(c.closeCode, c.closeFrameType, c.closeReason)
			}
		}
		return
	}
	for _, es := range c.epochs {
		if es.pair == nil || es.discarded {
			continue
		}
		if es.lossRecovery.InFlightBytes() == 0 || es.lastSentAt.IsZero() {
			continue
		}
		deadline := es.lastSentAt.Add(es.lossRecovery.PTOTimeout())
		if !now.Before(deadline) {
			c.handlePTOExpiry(es)
		}
	}
}

// handlePTOExpiry reacts to a probe-timeout per spec.md §4.6's
// simplified loss-recovery scope: rather than modeling RFC 9002's full
// probe-count state machine, one PING (ONE_RTT) or CRYPTO retransmit
// (INITIAL/HANDSHAKE) is scheduled per expiry.
func (c *Connection) handlePTOExpiry(es *epochState) {
	es.lossRecovery.OnPTOExpired()
	if es.epoch == wire.EpochOneRTT {
		es.needsProbePing = true
		return
	}
	es.cryptoSend.Retransmit(0)
}

// GetTimer returns the next instant HandleTimer should be called, or
// the zero Time if nothing is scheduled.
func (c *Connection) GetTimer() time.Time {
	if c.closing {
		return c.drainDeadline
	}
	var earliest time.Time
	for _, es := range c.epochs {
		if es.pair == nil || es.discarded || es.lossRecovery.InFlightBytes() == 0 || es.lastSentAt.IsZero() {
			continue
		}
		deadline := es.lastSentAt.Add(es.lossRecovery.PTOTimeout())
		if earliest.IsZero() || deadline.Before(earliest) {
			earliest = deadline
		}
	}
	return earliest
}

// NextEvent pops the oldest pending application-visible event.
func (c *Connection) NextEvent() (Event, bool) {
	return c.events.next()
}
