// Package models defines the value objects exchanged between the call
// orchestrator, its collaborators and the telemetry pipeline.
package models

import "strings"

// Word is a single recognized word with timing and confidence.
type Word struct {
	Word       string  `json:"word"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptEvent is emitted by a transcription adapter.
//
// IsFinal marks that this chunk of text will not be revised. SpeechFinal marks
// that the speaker has stopped talking; it is the signal that completes a user
// turn.
type TranscriptEvent struct {
	Text        string  `json:"text"`
	IsFinal     bool    `json:"isFinal"`
	SpeechFinal bool    `json:"speechFinal"`
	Confidence  float64 `json:"confidence"`
	Words       []Word  `json:"words,omitempty"`
}

// HasText reports whether the event carries non-whitespace text.
func (e TranscriptEvent) HasText() bool {
	return strings.TrimSpace(e.Text) != ""
}

// AudioFrame is an opaque block of encoded audio. The orchestrator never
// interprets it beyond the voice-activity heuristic.
type AudioFrame []byte
