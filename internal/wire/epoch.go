package wire

// Epoch is an encryption level with an independent packet-number space
// and independent keys (spec.md §3 "Epoch").
type Epoch int

const (
	EpochInitial Epoch = iota
	EpochZeroRTT
	EpochHandshake
	EpochOneRTT
)

func (e Epoch) String() string {
	switch e {
	case EpochInitial:
		return "initial"
	case EpochZeroRTT:
		return "0-RTT"
	case EpochHandshake:
		return "handshake"
	case EpochOneRTT:
		return "1-RTT"
	default:
		return "unknown"
	}
}

// Draft version wire values (spec.md §6).
const (
	VersionDraft19 uint32 = 0xff000013
	VersionDraft20 uint32 = 0xff000014
)

// VersionSupported reports whether this implementation understands version v.
func VersionSupported(v uint32) bool {
	return v == VersionDraft19 || v == VersionDraft20
}
