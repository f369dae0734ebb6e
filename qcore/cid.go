package qcore

//
// Connection-ID management (spec.md §3 "Connection ID", §4.6
// "Connection-ID management")
//

import (
	"crypto/rand"

	"github.com/bassosimone/qcore/internal/wire"
)

// MaxActiveConnectionIDs is the number of CIDs a side may issue to its
// peer. No code reads it: a connection issues only its sequence-0 CID,
// at Connect/Accept, and issues no further CIDs on handshake completion.
const MaxActiveConnectionIDs = 8

// HostCID is a connection ID this endpoint issued to its peer, along
// with the stateless-reset token that accompanies it.
type HostCID struct {
	SequenceNumber     uint64
	ID                 wire.ConnectionID
	StatelessResetToken [16]byte

	// Announced tracks whether a NEW_CONNECTION_ID frame carrying this
	// CID has been queued for send, so issueHostCID's caller only has to
	// scan hostCIDs once per send pass rather than keep a parallel queue.
	Announced bool
}

// PeerCID is a connection ID the peer issued to this endpoint via
// NEW_CONNECTION_ID, usable as a destination CID.
type PeerCID struct {
	SequenceNumber uint64
	ID             wire.ConnectionID
	Retired        bool
}

// cidManager owns the sequence-numbered host and peer CID pools for
// one connection.
type cidManager struct {
	hostCIDs []*HostCID
	nextHostSeq uint64

	peerCIDs       []*PeerCID
	activePeerSeq  uint64
	largestRetired uint64
}

func newCIDManager() *cidManager {
	return &cidManager{}
}

func randomConnectionID(length int) (wire.ConnectionID, error) {
	id := make([]byte, length)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	return wire.ConnectionID(id), nil
}

// issueHostCID generates and registers a new local CID with its
// stateless-reset token, returning it for NEW_CONNECTION_ID emission.
func (m *cidManager) issueHostCID() (*HostCID, error) {
	id, err := randomConnectionID(wire.MaxConnectionIDLength)
	if err != nil {
		return nil, err
	}
	var token [16]byte
	if _, err := rand.Read(token[:]); err != nil {
		return nil, err
	}
	cid := &HostCID{SequenceNumber: m.nextHostSeq, ID: id, StatelessResetToken: token}
	m.nextHostSeq++
	m.hostCIDs = append(m.hostCIDs, cid)
	return cid, nil
}

// addPeerCID registers a CID the peer offered via NEW_CONNECTION_ID.
func (m *cidManager) addPeerCID(seq uint64, id wire.ConnectionID) {
	for _, p := range m.peerCIDs {
		if p.SequenceNumber == seq {
			return // duplicate NEW_CONNECTION_ID
		}
	}
	m.peerCIDs = append(m.peerCIDs, &PeerCID{SequenceNumber: seq, ID: id})
}

// activeDestinationCID returns the peer CID currently used as the
// destination CID on outgoing packets.
func (m *cidManager) activeDestinationCID() *PeerCID {
	for _, p := range m.peerCIDs {
		if p.SequenceNumber == m.activePeerSeq && !p.Retired {
			return p
		}
	}
	return nil
}

// changeConnectionID picks the next available, unretired peer CID,
// retires the currently active one, and returns the retired sequence
// number (the value a RETIRE_CONNECTION_ID frame for it would carry;
// Connection.ChangeConnectionID sends no such frame).
func (m *cidManager) changeConnectionID() (retiredSeq uint64, ok bool) {
	current := m.activeDestinationCID()
	for _, p := range m.peerCIDs {
		if p.Retired || (current != nil && p.SequenceNumber == current.SequenceNumber) {
			continue
		}
		if current != nil {
			current.Retired = true
			retiredSeq = current.SequenceNumber
		}
		m.activePeerSeq = p.SequenceNumber
		return retiredSeq, true
	}
	return 0, false
}

// retireHostCID handles an inbound RETIRE_CONNECTION_ID frame from the
// peer, referring to one of this endpoint's *host* CIDs. Retiring the
// CID currently in use as a destination by the peer is a protocol
// violation the caller must surface (spec.md §4.6: "Receiving
// RETIRE_CONNECTION_ID for the currently active CID is
// PROTOCOL_VIOLATION").
func (m *cidManager) retireHostCID(seq uint64, activeSeq uint64) error {
	if seq == activeSeq {
		return newTransportError(ProtocolViolation, "Cannot retire current connection ID")
	}
	remaining := m.hostCIDs[:0]
	for _, c := range m.hostCIDs {
		if c.SequenceNumber != seq {
			remaining = append(remaining, c)
		}
	}
	m.hostCIDs = remaining
	return nil
}

// retireBelow applies the Retire Prior To field of an inbound
// NEW_CONNECTION_ID frame (RFC 9000 §19.15), retiring every peer-issued
// CID with a sequence below threshold.
func (m *cidManager) retireBelow(threshold uint64) {
	if threshold <= m.largestRetired {
		return
	}
	m.largestRetired = threshold
	for _, p := range m.peerCIDs {
		if p.SequenceNumber < threshold {
			p.Retired = true
		}
	}
}
