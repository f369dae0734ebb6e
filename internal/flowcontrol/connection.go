package flowcontrol

// ConnectionFlowControl tracks connection-level max_data accounting
// (spec.md §4.6, the connection-wide counterpart to each stream's
// SendBuffer/RecvBuffer limits).
type ConnectionFlowControl struct {
	sendMaxData uint64
	sent        uint64

	recvMaxData uint64
	received    uint64
}

// NewConnectionFlowControl creates connection-level flow control with
// the given initial send/receive limits (the peer's initial_max_data
// and our own initial_max_data transport parameters, respectively).
func NewConnectionFlowControl(sendMaxData, recvMaxData uint64) *ConnectionFlowControl {
	return &ConnectionFlowControl{sendMaxData: sendMaxData, recvMaxData: recvMaxData}
}

// SetSendMaxData raises the peer-advertised connection max_data limit
// on a MAX_DATA frame; limits never shrink.
func (c *ConnectionFlowControl) SetSendMaxData(limit uint64) {
	if limit > c.sendMaxData {
		c.sendMaxData = limit
	}
}

// SendAvailable returns how many more bytes can be sent across the
// whole connection before hitting the peer's max_data.
func (c *ConnectionFlowControl) SendAvailable() uint64 {
	if c.sent >= c.sendMaxData {
		return 0
	}
	return c.sendMaxData - c.sent
}

// IsSendBlocked reports whether the connection is at its send limit.
func (c *ConnectionFlowControl) IsSendBlocked() bool { return c.SendAvailable() == 0 }

// RecordSent accounts for n more bytes sent across any stream.
func (c *ConnectionFlowControl) RecordSent(n uint64) { c.sent += n }

// RecordReceived accounts for n more bytes received across any
// stream, returning ErrFlowControl if this would exceed our own
// advertised recvMaxData.
func (c *ConnectionFlowControl) RecordReceived(n uint64) error {
	if c.received+n > c.recvMaxData {
		return newErrFlowControl("connection data exceeds max_data")
	}
	c.received += n
	return nil
}

// SetRecvMaxData raises our own advertised connection max_data limit
// (after sending a MAX_DATA frame).
func (c *ConnectionFlowControl) SetRecvMaxData(limit uint64) {
	if limit > c.recvMaxData {
		c.recvMaxData = limit
	}
}

// RecvMaxData returns our currently advertised connection max_data.
func (c *ConnectionFlowControl) RecvMaxData() uint64 { return c.recvMaxData }
