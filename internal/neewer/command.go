package neewer

import (
	"errors"
	"fmt"
)

// Command bounds. Brightness is a percentage; colour temperature covers the
// range the CCT-only Neewer panels accept, encoded in hundreds of kelvin.
const (
	MinBrightness = 0
	MaxBrightness = 100

	MinTemperatureK = 2700
	MaxTemperatureK = 6500

	// DefaultTemperatureK is the neutral temperature reported for a light
	// whose physical state is unknown (never connected, or just dropped).
	DefaultTemperatureK = 5600

	// TemperatureStepK is the encoder's quantisation step: the wire format
	// carries temperature in hundreds of kelvin.
	TemperatureStepK = 100
)

// Wire format constants. Every command is prefix, tag, payload length, payload
// bytes, then a modulo-256 checksum over everything preceding it.
const (
	commandPrefix = 0x78

	tagPower = 0x81
	tagCCT   = 0x87

	cctPayloadLen   = 2
	powerPayloadLen = 1

	powerOn  = 0x01
	powerOff = 0x02
)

// Decode errors.
var (
	// ErrMalformedCommand is returned when a byte sequence is too short or
	// does not start with the command prefix.
	ErrMalformedCommand = errors.New("neewer: malformed command")

	// ErrBadChecksum is returned when the trailing checksum does not match
	// the summed payload.
	ErrBadChecksum = errors.New("neewer: checksum mismatch")
)

// ClampBrightness clamps a brightness value to the valid 0-100 range.
func ClampBrightness(brightness int) int {
	if brightness < MinBrightness {
		return MinBrightness
	}
	if brightness > MaxBrightness {
		return MaxBrightness
	}
	return brightness
}

// ClampTemperature clamps a colour temperature to the supported kelvin range.
func ClampTemperature(temperatureK int) int {
	if temperatureK < MinTemperatureK {
		return MinTemperatureK
	}
	if temperatureK > MaxTemperatureK {
		return MaxTemperatureK
	}
	return temperatureK
}

// CCTCommand builds the byte command that sets brightness and colour
// temperature in one write.
//
// Out-of-range inputs are clamped, not rejected: the caller's intent is
// "as bright/warm as this light goes", and the device firmware ignores
// out-of-range payloads entirely rather than clamping them itself.
//
// Parameters:
//   - brightness: Target brightness percentage (clamped to 0-100)
//   - temperatureK: Target colour temperature in kelvin (clamped to 2700-6500)
//
// Returns:
//   - []byte: Fixed-length command ready to write to the control characteristic
func CCTCommand(brightness, temperatureK int) []byte {
	brightness = ClampBrightness(brightness)
	temperatureK = ClampTemperature(temperatureK)

	cmd := []byte{
		commandPrefix,
		tagCCT,
		cctPayloadLen,
		byte(brightness),
		byte(temperatureK / TemperatureStepK),
	}
	return appendChecksum(cmd)
}

// PowerCommand builds the byte command that switches the light on or off.
func PowerCommand(on bool) []byte {
	state := byte(powerOff)
	if on {
		state = powerOn
	}

	cmd := []byte{
		commandPrefix,
		tagPower,
		powerPayloadLen,
		state,
	}
	return appendChecksum(cmd)
}

// DecodeCCT parses a CCT command back into brightness and temperature.
// Used by tests and by the notification handler to interpret echoed state.
//
// Returns:
//   - brightness: Decoded brightness percentage
//   - temperatureK: Decoded colour temperature in kelvin
//   - error: ErrMalformedCommand or ErrBadChecksum on invalid input
func DecodeCCT(cmd []byte) (brightness, temperatureK int, err error) {
	const cctCommandLen = 6 // prefix + tag + len + 2 payload + checksum
	if len(cmd) != cctCommandLen || cmd[0] != commandPrefix || cmd[1] != tagCCT {
		return 0, 0, ErrMalformedCommand
	}
	if cmd[2] != cctPayloadLen {
		return 0, 0, fmt.Errorf("%w: payload length %d", ErrMalformedCommand, cmd[2])
	}
	if checksum(cmd[:len(cmd)-1]) != cmd[len(cmd)-1] {
		return 0, 0, ErrBadChecksum
	}

	return int(cmd[3]), int(cmd[4]) * TemperatureStepK, nil
}

// checksum sums the given bytes modulo 256.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// appendChecksum returns the command with its checksum byte appended.
func appendChecksum(cmd []byte) []byte {
	return append(cmd, checksum(cmd))
}
