package wire

import (
	"fmt"
	"math"
	"strings"
)

// EncodeFrame formats a response the way the sensor service sends it.
// The reserved byte is always zero.
func EncodeFrame(command byte, payload []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%02X %02X %02X", 0, command, len(payload))
	for _, p := range payload {
		fmt.Fprintf(&b, " %02X", p)
	}
	return b.String()
}

// EncodeValue builds a frame whose decoded value, divided by the channel
// scale of 10, equals value. Non-decimal commands carry whole numbers. The
// decimal command additionally carries 0.00 to 0.09 in its first digit, so
// value is rounded to the nearest representable step.
func EncodeValue(command byte, value float64) string {
	if value < 0 {
		value = 0
	}

	if int(command) != DecimalCommandID {
		return EncodeFrame(command, littleEndianDigits(uint64(math.Round(value)), true))
	}

	whole := math.Floor(value)
	hundredths := math.Round((value - whole) * 100)
	switch {
	case hundredths >= 55:
		whole++
		hundredths = 0
	case hundredths > 9:
		hundredths = 9
	}

	payload := []byte{'0' + byte(hundredths)}
	payload = append(payload, littleEndianDigits(uint64(whole), false)...)
	return EncodeFrame(command, payload)
}

// littleEndianDigits returns the ASCII digits of n, least significant first.
func littleEndianDigits(n uint64, keepZero bool) []byte {
	if n == 0 {
		if keepZero {
			return []byte{'0'}
		}
		return nil
	}

	var digits []byte
	for n > 0 {
		digits = append(digits, '0'+byte(n%10))
		n /= 10
	}
	return digits
}
