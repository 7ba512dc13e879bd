package ticker

// Mode is the streaming verbosity level for a subscribed instrument. The
// server sends progressively larger payloads per mode.
type Mode string

const (
	ModeLTP   Mode = "ltp"
	ModeQuote Mode = "quote"
	ModeFull  Mode = "full"
)

// A fresh subscribe without an explicit mode streams at quote.
const defaultMode = ModeQuote

func (m Mode) valid() bool {
	switch m {
	case ModeLTP, ModeQuote, ModeFull:
		return true
	}
	return false
}

// Exchange segment identifiers, encoded in the low byte of every
// instrument token.
const (
	SegmentNSECM uint32 = iota + 1
	SegmentNSEFO
	SegmentNSECD
	SegmentBSECM
	SegmentBSEFO
	SegmentBSECD
	SegmentMCXFO
	SegmentMCXSX
	SegmentIndices
)

func segmentOf(instrumentToken uint32) uint32 {
	return instrumentToken & 0xFF
}

// convertPrice scales an exchange-native integer price to rupees. The
// divisor is a property of the segment: currency derivatives quote in
// fractions of a paisa.
func convertPrice(segment uint32, value uint32) float64 {
	switch segment {
	case SegmentNSECD:
		return float64(value) / 10000000.0
	case SegmentBSECD:
		return float64(value) / 10000.0
	default:
		return float64(value) / 100.0
	}
}
