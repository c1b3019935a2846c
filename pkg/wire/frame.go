// Package wire decodes the bike sensor service's V1 response frames.
//
// A frame arrives as space-delimited two-digit hex tokens, e.g.
// "F1 44 03 35 32 31". Byte 0 is reserved, byte 1 is the command id,
// byte 2 the payload length, followed by that many ASCII digit bytes.
package wire

import (
	"strconv"
	"strings"
)

const (
	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = 3
	// DecimalCommandID is the watt command, the only one using the decimal encoding.
	DecimalCommandID = 68
	// TimeoutSentinel is sent by the sensor service in place of a frame when it has no data.
	TimeoutSentinel = "TIME_OUT"
)

// Frame is a validated V1 response.
type Frame struct {
	Reserved      byte
	Command       int
	PayloadLength int
	Payload       []byte
	Value         float64 // Decoded payload, before channel scaling
}

// IsDecimal reports whether the frame uses the decimal payload encoding.
func (f Frame) IsDecimal() bool {
	return f.Command == DecimalCommandID
}

// HexResponseToBytes converts a space-delimited hex string into bytes.
// Any token that fails to parse rejects the whole response.
func HexResponseToBytes(response string) ([]byte, error) {
	if response == "" {
		return nil, newError(KindEmptyInput, "")
	}

	tokens := strings.Split(response, " ")
	data := make([]byte, 0, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return nil, newError(KindInvalidToken, "token %d %q", i, token)
		}
		data = append(data, byte(v))
	}

	return data, nil
}

// DecodeFrame parses and validates a raw response and extracts its value.
func DecodeFrame(response string) (Frame, error) {
	data, err := HexResponseToBytes(response)
	if err != nil {
		return Frame{}, err
	}

	if len(data) < HeaderSize {
		return Frame{}, newError(KindTooShort, "got %d bytes", len(data))
	}

	// Command and length are signed bytes on the device side.
	command := int(int8(data[1]))
	payloadLength := int(int8(data[2]))

	if command < 0 {
		return Frame{}, newError(KindInvalidCommand, "command %d", command)
	}
	if payloadLength < 1 {
		return Frame{}, newError(KindInvalidPayloadLength, "length %d", payloadLength)
	}
	if len(data) < HeaderSize+payloadLength {
		return Frame{}, newError(KindTruncatedPayload, "need %d bytes, got %d", HeaderSize+payloadLength, len(data))
	}

	payload := data[HeaderSize : HeaderSize+payloadLength]
	value, err := ExtractValue(payload, command == DecimalCommandID)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Reserved:      data[0],
		Command:       command,
		PayloadLength: payloadLength,
		Payload:       payload,
		Value:         value,
	}, nil
}

// ExtractValue reconstructs the numeric payload.
//
// Each digit is weighted by a multiplier that is scaled by ten before it is
// applied. With the decimal encoding the first digit is not scaled and
// contributes a tenths component instead.
func ExtractValue(payload []byte, decimal bool) (float64, error) {
	// 32-bit accumulators wrap on oversized payloads exactly as the device
	// service's parser does.
	var (
		intValue   int32
		fractional float64
		multiplier int32 = 1
	)

	for i, b := range payload {
		digit := int32(b) - '0'
		if digit < 0 || digit > 9 {
			return 0, newError(KindNonDigitPayload, "byte %d is 0x%02X", i, b)
		}

		if decimal && i == 0 {
			fractional = float64(multiplier) * float64(digit) / 10.0
			continue
		}

		multiplier *= 10
		intValue += digit * multiplier
	}

	return float64(intValue) + fractional, nil
}
