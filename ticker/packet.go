package ticker

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Binary payload sizes. The server does not tag packets with a mode; the
// byte length of a sub-packet alone selects the decode shape.
const (
	packetLTPLength        = 8
	packetQuoteIndexLength = 28
	packetFullIndexLength  = 32
	packetQuoteLength      = 44
	packetFullLength       = 184
)

const depthLevels = 5

// ParseBinary decodes one binary WebSocket message into the ticks it
// batches. The message layout is a big-endian u16 sub-packet count
// followed by length-prefixed payloads. Any truncation or unrecognized
// payload size rejects the whole message: partial decoding would hand the
// caller ticks from a frame known to be corrupt.
func ParseBinary(data []byte) ([]Tick, error) {
	if len(data) < 2 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message too short: %d bytes", len(data))}
	}

	count := int(binary.BigEndian.Uint16(data[0:2]))
	ticks := make([]Tick, 0, count)
	offset := 2

	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return nil, &ProtocolError{Reason: fmt.Sprintf("truncated length prefix for sub-packet %d", i)}
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if offset+length > len(data) {
			return nil, &ProtocolError{
				Reason: fmt.Sprintf("sub-packet %d declares %d bytes but only %d remain", i, length, len(data)-offset),
			}
		}

		tick, err := parsePacket(data[offset : offset+length])
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, tick)
		offset += length
	}

	return ticks, nil
}

// parsePacket decodes a single length-delimited payload.
func parsePacket(data []byte) (Tick, error) {
	if len(data) < 4 {
		return Tick{}, &ProtocolError{Reason: fmt.Sprintf("sub-packet too short: %d bytes", len(data))}
	}

	token := binary.BigEndian.Uint32(data[0:4])
	segment := segmentOf(token)
	isIndex := segment == SegmentIndices

	tick := Tick{
		InstrumentToken: token,
		IsTradable:      !isIndex,
		IsIndex:         isIndex,
	}

	switch len(data) {
	case packetLTPLength:
		tick.Mode = ModeLTP
		tick.LastPrice = convertPrice(segment, binary.BigEndian.Uint32(data[4:8]))

	case packetQuoteIndexLength, packetFullIndexLength:
		tick.Mode = ModeQuote
		if len(data) == packetFullIndexLength {
			tick.Mode = ModeFull
		}

		tick.LastPrice = convertPrice(segment, binary.BigEndian.Uint32(data[4:8]))
		tick.OHLC = OHLC{
			High:  convertPrice(segment, binary.BigEndian.Uint32(data[8:12])),
			Low:   convertPrice(segment, binary.BigEndian.Uint32(data[12:16])),
			Open:  convertPrice(segment, binary.BigEndian.Uint32(data[16:20])),
			Close: convertPrice(segment, binary.BigEndian.Uint32(data[20:24])),
		}
		tick.NetChange = tick.LastPrice - tick.OHLC.Close

		if len(data) == packetFullIndexLength {
			tick.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(data[28:32])), 0)
		}

	case packetQuoteLength, packetFullLength:
		tick.Mode = ModeQuote
		if len(data) == packetFullLength {
			tick.Mode = ModeFull
		}

		tick.LastPrice = convertPrice(segment, binary.BigEndian.Uint32(data[4:8]))
		tick.LastTradedQuantity = binary.BigEndian.Uint32(data[8:12])
		tick.AverageTradePrice = convertPrice(segment, binary.BigEndian.Uint32(data[12:16]))
		tick.VolumeTraded = binary.BigEndian.Uint32(data[16:20])
		tick.TotalBuyQuantity = binary.BigEndian.Uint32(data[20:24])
		tick.TotalSellQuantity = binary.BigEndian.Uint32(data[24:28])
		tick.OHLC = OHLC{
			Open:  convertPrice(segment, binary.BigEndian.Uint32(data[28:32])),
			High:  convertPrice(segment, binary.BigEndian.Uint32(data[32:36])),
			Low:   convertPrice(segment, binary.BigEndian.Uint32(data[36:40])),
			Close: convertPrice(segment, binary.BigEndian.Uint32(data[40:44])),
		}
		tick.NetChange = tick.LastPrice - tick.OHLC.Close

		if len(data) == packetFullLength {
			tick.LastTradeTime = time.Unix(int64(binary.BigEndian.Uint32(data[44:48])), 0)
			tick.OI = binary.BigEndian.Uint32(data[48:52])
			tick.OIDayHigh = binary.BigEndian.Uint32(data[52:56])
			tick.OIDayLow = binary.BigEndian.Uint32(data[56:60])
			tick.Timestamp = time.Unix(int64(binary.BigEndian.Uint32(data[60:64])), 0)

			buyPos, sellPos := 64, 124
			for i := 0; i < depthLevels; i++ {
				tick.Depth.Buy[i] = parseDepthItem(segment, data[buyPos:buyPos+12])
				tick.Depth.Sell[i] = parseDepthItem(segment, data[sellPos:sellPos+12])
				buyPos += 12
				sellPos += 12
			}
		}

	default:
		return Tick{}, &ProtocolError{Reason: fmt.Sprintf("unrecognized sub-packet length: %d", len(data))}
	}

	return tick, nil
}

// Each depth level is 12 bytes: quantity, price, order count, 2 bytes of
// padding.
func parseDepthItem(segment uint32, data []byte) DepthItem {
	return DepthItem{
		Quantity: binary.BigEndian.Uint32(data[0:4]),
		Price:    convertPrice(segment, binary.BigEndian.Uint32(data[4:8])),
		Orders:   uint32(binary.BigEndian.Uint16(data[8:10])),
	}
}
