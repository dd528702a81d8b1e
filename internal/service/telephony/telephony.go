// Package telephony defines what the orchestrator needs from the carrier
// side of a call: ending it and writing audio back to the caller.
package telephony

import (
	"context"
	"errors"

	"ai-call-orchestrator-service/internal/models"
)

// ErrCallNotActive - the call already ended on the carrier side.
var ErrCallNotActive = errors.New("call not active")

// Controller ends calls on the carrier side. EndCall on an already-ended
// call returns ErrCallNotActive.
type Controller interface {
	EndCall(ctx context.Context, callID string) error
}

// AudioSink receives synthesized audio for one call.
type AudioSink interface {
	Write(frame models.AudioFrame) error
	// Clear discards audio queued but not yet played.
	Clear() error
}

// NopController is used when no carrier is configured.
type NopController struct{}

func (NopController) EndCall(context.Context, string) error { return nil }

// DiscardSink drops all audio.
type DiscardSink struct{}

func (DiscardSink) Write(models.AudioFrame) error { return nil }
func (DiscardSink) Clear() error                  { return nil }
