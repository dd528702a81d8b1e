package orchestrator

import (
	"ai-call-orchestrator-service/internal/models"
)

// transcriptCallback routes one session's transcription events. The adapter
// delivers them in order on a single goroutine.
type transcriptCallback struct {
	o  *Orchestrator
	ls *liveSession
}

// OnTranscript handles interim and final transcripts. Only events carrying
// text count as user speech; empty provider heartbeats leave silence
// tracking alone.
func (c *transcriptCallback) OnTranscript(ev models.TranscriptEvent) {
	o, ls := c.o, c.ls
	defer o.recoverPanic(ls, "transcript")

	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return
	}

	if ev.HasText() {
		ls.sess.MarkUserSpeech(o.now())
	}

	if !ev.IsFinal && !ev.SpeechFinal {
		if !ev.HasText() {
			return
		}
		if err := ls.acceptPartial(); err != nil {
			ls.log.Debug().Err(err).Msg("Partial ignored")
			return
		}
		o.metrics.RecordPartialTranscript()
		o.emit(ls, models.CallEvent{
			EventType:  models.EventTranscriptPartial,
			SegmentID:  ls.utt.UtteranceId(),
			Text:       ev.Text,
			Confidence: ev.Confidence,
		})
		return
	}

	text, id, ok := ls.collectFinal(ev, o.segments)
	if !ok {
		return
	}
	o.userTurn(ls, text, id, ev.Confidence)
}

func (c *transcriptCallback) OnSpeechStarted() {
	o, ls := c.o, c.ls
	defer o.recoverPanic(ls, "speech_started")

	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return
	}
	ls.sess.MarkUserSpeech(o.now())
	o.emit(ls, models.CallEvent{EventType: models.EventUserSpeaking})
}

func (c *transcriptCallback) OnUtteranceEnd() {
	o, ls := c.o, c.ls
	defer o.recoverPanic(ls, "utterance_end")

	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return
	}
	ls.sess.MarkUtteranceEnd(o.now())

	// finals without a speech-final marker complete here
	if text, id, ok := ls.flushPending(o.segments); ok {
		o.userTurn(ls, text, id, 0)
	}
}

// OnError is terminal: the stream exhausted its reconnects or failed
// permanently. The session ends.
func (c *transcriptCallback) OnError(err error) {
	o, ls := c.o, c.ls
	defer o.recoverPanic(ls, "stt_error")

	if !ls.sess.State().AcceptsEvents() {
		return
	}
	ls.log.Error().Err(err).Msg("Transcription stream failed")
	o.metrics.RecordAdapterError("stt", "terminal")
	o.emit(ls, models.CallEvent{EventType: models.EventAdapterError, Source: "stt", Error: err.Error()})
	o.EndSession(ls.sess.CallID, ReasonSTTFailure)
}

// caller holds ls.gate
func (o *Orchestrator) userTurn(ls *liveSession, text, utteranceID string, confidence float64) {
	ls.sess.AppendTurn(models.RoleUser, text)
	ls.sess.AddSummaryLine(userLine(text))
	o.metrics.RecordFinalTranscript()
	o.emit(ls, models.CallEvent{
		EventType:  models.EventTranscriptFinal,
		SegmentID:  utteranceID,
		Text:       text,
		Confidence: confidence,
	})
	ls.log.Info().Str("utteranceId", utteranceID).Str("text", text).Msg("User turn")
	ls.enqueue(job{
		kind:        jobTurn,
		text:        text,
		utteranceID: utteranceID,
		window:      ls.sess.Window(o.cfg.HistoryWindow),
	})
}
