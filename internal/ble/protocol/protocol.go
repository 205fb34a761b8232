// Package protocol implements the Surplife vendor wire format: fixed
// power frames, checksummed RGB frames, and status notification parsing.
// All functions are pure; the package does no I/O.
package protocol

// Fixed command frames. The two trailing bytes of the on/off frames are
// literal values the firmware expects — they do not follow the additive
// checksum rule, so they are never recomputed.
var (
	cmdOn  = []byte{0xA0, 0x11, 0x04, 0x01, 0xB1, 0x21}
	cmdOff = []byte{0xA0, 0x11, 0x04, 0x00, 0x70, 0xE1}
	poke   = []byte{0x77, 0x00, 0x00, 0x03}

	rgbHeader = []byte{0xA0, 0x04, 0x1A}
)

// On returns the power-on command frame.
func On() []byte {
	return append([]byte(nil), cmdOn...)
}

// Off returns the power-off command frame.
func Off() []byte {
	return append([]byte(nil), cmdOff...)
}

// Poke returns the frame that asks the device to push a status
// notification.
func Poke() []byte {
	return append([]byte(nil), poke...)
}

// RGB builds a 12-byte set-color frame: 3-byte header, the color
// components, five zero pad bytes, and an additive checksum. Setting a
// color also powers the light on.
func RGB(r, g, b uint8) []byte {
	frame := make([]byte, 0, 12)
	frame = append(frame, rgbHeader...)
	frame = append(frame, r, g, b, 0x00, 0x00, 0x00, 0x00, 0x00)
	return append(frame, Checksum(frame))
}

// Checksum sums all bytes modulo 256. Every computed-checksum command in
// the protocol places this over the bytes preceding the checksum position.
func Checksum(data []byte) byte {
	var sum byte
	for _, v := range data {
		sum += v
	}
	return sum
}

// Status is a decoded device status notification.
type Status struct {
	On bool
}

// DecodeStatus parses a status notification: length >= 4, 0xA1 marker,
// 0x66 status opcode, then the power byte. The notify characteristic
// carries other frame kinds too; anything else returns ok == false and
// is not an error.
func DecodeStatus(data []byte) (Status, bool) {
	if len(data) < 4 || data[0] != 0xA1 || data[2] != 0x66 {
		return Status{}, false
	}
	return Status{On: data[3] == 0x01}, true
}
