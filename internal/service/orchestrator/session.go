package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/logging"
	"ai-call-orchestrator-service/internal/service/call"
	"ai-call-orchestrator-service/internal/service/segment"
	"ai-call-orchestrator-service/internal/service/stt"
	"ai-call-orchestrator-service/internal/service/telephony"
)

type jobKind int

const (
	jobTurn jobKind = iota
	jobGreeting
	jobPrompt
)

// job is one unit of work for the session worker.
type job struct {
	kind        jobKind
	text        string
	utteranceID string
	// window is the history as of the user turn, taken before any later
	// reply can be appended behind it.
	window []models.Turn
}

// liveSession is the runtime around one call.Session.
type liveSession struct {
	sess *call.Session
	sink telephony.AudioSink
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	done   chan struct{}

	// gate is held for reading while an event mutates the session and for
	// writing while the session moves to ENDING.
	gate sync.RWMutex

	// emitMu orders telemetry; sealed is set once session.ended is out.
	emitMu sync.Mutex
	sealed bool

	mu       sync.Mutex
	adapter  stt.Adapter
	released bool
	watchdog *time.Timer
	utt      *segment.Lifecycle
	pending  []string
	stats    models.Stats
}

func newLiveSession(sess *call.Session, sink telephony.AudioSink, utteranceID string) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &liveSession{
		sess:   sess,
		sink:   sink,
		log:    logging.WithCall(sess.CallID, sess.TenantID),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, jobQueueSize),
		done:   make(chan struct{}),
		utt:    segment.NewLifecycle(utteranceID),
	}
}

// setAdapter installs the opened stream unless the session already released
// its transcription.
func (ls *liveSession) setAdapter(a stt.Adapter) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.released {
		return false
	}
	ls.adapter = a
	return true
}

func (ls *liveSession) currentAdapter() stt.Adapter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.adapter
}

// releaseAdapter hands the stream to the caller exactly once.
func (ls *liveSession) releaseAdapter() stt.Adapter {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.released = true
	a := ls.adapter
	ls.adapter = nil
	return a
}

func (ls *liveSession) armWatchdog(after time.Duration, fn func()) {
	if after < 0 {
		after = 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.released {
		return
	}
	ls.watchdog = time.AfterFunc(after, fn)
}

func (ls *liveSession) stopWatchdog() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.watchdog != nil {
		ls.watchdog.Stop()
	}
}

func (ls *liveSession) enqueue(j job) {
	select {
	case ls.jobs <- j:
	default:
		ls.log.Warn().Int("kind", int(j.kind)).Msg("Session worker queue full, dropping job")
	}
}

// acceptPartial counts an interim transcript against the open utterance.
func (ls *liveSession) acceptPartial() error {
	return ls.utt.AcceptPartial()
}

// collectFinal buffers a final chunk. On speech-final it completes the
// utterance and returns its text.
func (ls *liveSession) collectFinal(ev models.TranscriptEvent, gen *segment.Generator) (string, string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if t := strings.TrimSpace(ev.Text); t != "" {
		ls.pending = append(ls.pending, t)
	}
	if !ev.SpeechFinal {
		return "", "", false
	}
	return ls.completeLocked(gen)
}

// flushPending completes the utterance when the provider signals the end of
// speech with final text still buffered.
func (ls *liveSession) flushPending(gen *segment.Generator) (string, string, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.completeLocked(gen)
}

func (ls *liveSession) completeLocked(gen *segment.Generator) (string, string, bool) {
	text := strings.Join(ls.pending, " ")
	ls.pending = nil
	id := ls.utt.UtteranceId()

	if text == "" {
		// interim text without a final: the utterance produced nothing usable
		if ls.utt.Partials() > 0 && ls.utt.Drop() {
			ls.utt.Begin(gen.Next(ls.sess.CallID))
		}
		return "", id, false
	}
	if err := ls.utt.Finalize(); err != nil {
		ls.log.Debug().Err(err).Str("utteranceId", id).Msg("Utterance was not open at final")
	}
	ls.utt.Begin(gen.Next(ls.sess.CallID))
	return text, id, true
}

func (ls *liveSession) complete(stats models.Stats) {
	ls.mu.Lock()
	ls.stats = stats
	ls.mu.Unlock()
	close(ls.done)
}

func (ls *liveSession) finalStats() models.Stats {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.stats.CallID == "" {
		return models.Stats{CallID: ls.sess.CallID, Reason: ls.sess.Lifecycle().Reason()}
	}
	return ls.stats
}
