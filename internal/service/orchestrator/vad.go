package orchestrator

import (
	"encoding/binary"
	"strings"

	"ai-call-orchestrator-service/internal/models"
)

// Inbound audio encodings understood by the voice-activity heuristic.
const (
	EncodingPCM8  = "pcm8"
	EncodingMulaw = "mulaw"
	EncodingPCM16 = "pcm16"
)

// VoiceActivity reports whether a frame carries speech energy: the mean
// absolute deviation of its samples from the zero level, on an 8-bit
// amplitude scale, reaches threshold. This is a plain energy heuristic, not
// a speech classifier; loud noise also triggers it.
func VoiceActivity(frame models.AudioFrame, encoding string, threshold float64) bool {
	energy, ok := MeanDeviation(frame, encoding)
	return ok && energy >= threshold
}

// MeanDeviation returns the frame's mean absolute deviation from zero level
// in 8-bit units. ok is false for frames with no samples.
func MeanDeviation(frame models.AudioFrame, encoding string) (float64, bool) {
	var sum float64
	var n int

	switch strings.ToLower(encoding) {
	case EncodingMulaw, "ulaw":
		for _, b := range frame {
			sum += abs(float64(mulawToLinear(b))) / 256
		}
		n = len(frame)
	case EncodingPCM16, "linear16":
		for i := 0; i+1 < len(frame); i += 2 {
			s := int16(binary.LittleEndian.Uint16(frame[i:]))
			sum += abs(float64(s)) / 256
			n++
		}
	default:
		// unsigned 8-bit, zero level 128
		for _, b := range frame {
			sum += abs(float64(b) - 128)
		}
		n = len(frame)
	}

	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// mulawToLinear decodes one G.711 mu-law byte to a 16-bit sample.
func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
