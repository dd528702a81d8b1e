// Package schema checks outbound telemetry and summary payloads before they
// leave the process.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
)

var ErrInvalidPayload = errors.New("invalid payload")

var knownEvents = map[models.EventType]bool{
	models.EventSessionStarted:       true,
	models.EventUserSpeaking:         true,
	models.EventTranscriptPartial:    true,
	models.EventTranscriptFinal:      true,
	models.EventUserSilence:          true,
	models.EventAgentSpeakingStart:   true,
	models.EventAgentSpeakingEnd:     true,
	models.EventBargeIn:              true,
	models.EventMeteringDelta:        true,
	models.EventAdapterError:         true,
	models.EventSynthesisUnavailable: true,
	models.EventSessionEnded:         true,
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate accepts CallEvent and SessionSummary values (or pointers to
// them). Anything else is rejected.
func (v *Validator) Validate(payload any) error {
	var err error
	switch p := payload.(type) {
	case models.CallEvent:
		err = validateEvent(p)
	case *models.CallEvent:
		if p == nil {
			err = fmt.Errorf("%w: nil event", ErrInvalidPayload)
			break
		}
		err = validateEvent(*p)
	case models.SessionSummary:
		err = validateSummary(p)
	case *models.SessionSummary:
		if p == nil {
			err = fmt.Errorf("%w: nil summary", ErrInvalidPayload)
			break
		}
		err = validateSummary(*p)
	default:
		err = fmt.Errorf("%w: unsupported type %T", ErrInvalidPayload, payload)
	}

	if err != nil {
		log.Debug().Err(err).Msg("Schema validation failed")
	}
	return err
}

func validateEvent(ev models.CallEvent) error {
	switch {
	case !knownEvents[ev.EventType]:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, ev.EventType)
	case ev.CallID == "":
		return fmt.Errorf("%w: %s without callId", ErrInvalidPayload, ev.EventType)
	case ev.Timestamp <= 0:
		return fmt.Errorf("%w: %s without timestamp", ErrInvalidPayload, ev.EventType)
	case ev.EventType == models.EventMeteringDelta && ev.Credits <= 0:
		return fmt.Errorf("%w: metering delta must be positive", ErrInvalidPayload)
	case ev.EventType == models.EventTranscriptFinal && ev.Text == "":
		return fmt.Errorf("%w: final transcript without text", ErrInvalidPayload)
	}
	return nil
}

func validateSummary(s models.SessionSummary) error {
	switch {
	case s.CallID == "":
		return fmt.Errorf("%w: summary without callId", ErrInvalidPayload)
	case s.Reason == "":
		return fmt.Errorf("%w: summary for %s without reason", ErrInvalidPayload, s.CallID)
	case s.EndedAt.Before(s.StartedAt):
		return fmt.Errorf("%w: summary for %s ends before it starts", ErrInvalidPayload, s.CallID)
	case s.DurationSec < 0 || s.CreditsUsed < 0:
		return fmt.Errorf("%w: summary for %s has negative totals", ErrInvalidPayload, s.CallID)
	}
	return nil
}
