package qcore

//
// Application-visible events (spec.md §6 "Events emitted to
// application", §5 "delivered via a FIFO queue drained by
// next_event()")
//

import "github.com/bassosimone/qcore/internal/wire"

// EventType discriminates the concrete type held by an [Event].
type EventType int

const (
	EventHandshakeCompleted EventType = iota
	EventConnectionIDIssued
	EventConnectionTerminated
	EventPingAcknowledged
	EventStreamDataReceived
)

// Event is the tagged union of every event the connection surfaces to
// its owner. Exactly one of the typed fields is populated, selected by
// Type.
type Event struct {
	Type EventType

	HandshakeCompleted   *HandshakeCompletedEvent
	ConnectionIDIssued   *ConnectionIDIssuedEvent
	ConnectionTerminated *ConnectionTerminatedEvent
	PingAcknowledged     *PingAcknowledgedEvent
	StreamDataReceived   *StreamDataReceivedEvent
}

// HandshakeCompletedEvent reports a successful TLS handshake.
type HandshakeCompletedEvent struct {
	ALPNProtocol      string
	EarlyDataAccepted bool
	SessionResumed    bool
}

// ConnectionIDIssuedEvent reports a new local connection ID offered to
// the peer via NEW_CONNECTION_ID.
type ConnectionIDIssuedEvent struct {
	ConnectionID wire.ConnectionID
}

// ConnectionTerminatedEvent reports the connection entering the
// terminal state, draining or fully closed.
type ConnectionTerminatedEvent struct {
	ErrorCode TransportErrorCode
	FrameType *uint64
	Reason    string
}

// PingAcknowledgedEvent reports the peer acking a PING frame
// previously sent with SendPing(uid).
type PingAcknowledgedEvent struct {
	UID uint64
}

// StreamDataReceivedEvent reports newly available contiguous bytes on
// a stream.
type StreamDataReceivedEvent struct {
	StreamID uint64
	Data     []byte
	EndStream bool
}

// eventQueue is a simple FIFO, matching spec.md §5's ordering
// contract: "events are only produced at API boundaries, never from
// within deeper callbacks."
type eventQueue struct {
	events []Event
}

func (q *eventQueue) push(e Event) {
	q.events = append(q.events, e)
}

func (q *eventQueue) pushHandshakeCompleted(e *HandshakeCompletedEvent) {
	q.push(Event{Type: EventHandshakeCompleted, HandshakeCompleted: e})
}

func (q *eventQueue) pushConnectionIDIssued(id wire.ConnectionID) {
	q.push(Event{Type: EventConnectionIDIssued, ConnectionIDIssued: &ConnectionIDIssuedEvent{ConnectionID: id}})
}

func (q *eventQueue) pushConnectionTerminated(code TransportErrorCode, frameType *uint64, reason string) {
	q.push(Event{Type: EventConnectionTerminated, ConnectionTerminated: &ConnectionTerminatedEvent{
		ErrorCode: code,
		FrameType: frameType,
		Reason:    reason,
	}})
}

func (q *eventQueue) pushPingAcknowledged(uid uint64) {
	q.push(Event{Type: EventPingAcknowledged, PingAcknowledged: &PingAcknowledgedEvent{UID: uid}})
}

func (q *eventQueue) pushStreamDataReceived(streamID uint64, data []byte, endStream bool) {
	q.push(Event{Type: EventStreamDataReceived, StreamDataReceived: &StreamDataReceivedEvent{
		StreamID:  streamID,
		Data:      data,
		EndStream: endStream,
	}})
}

// next pops the oldest pending event, reporting false when the queue
// is empty.
func (q *eventQueue) next() (Event, bool) {
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}
