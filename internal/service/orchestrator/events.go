package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
)

// Observer receives telemetry events. Events are delivered synchronously
// from session goroutines: observers must not block and must not call back
// into the Orchestrator.
type Observer interface {
	OnCallEvent(ev models.CallEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev models.CallEvent)

func (f ObserverFunc) OnCallEvent(ev models.CallEvent) { f(ev) }

// SummarySink persists or forwards the summary of an ended session.
type SummarySink interface {
	SaveSummary(ctx context.Context, summary models.SessionSummary) error
}

// Subscribe registers an observer and returns its unsubscribe function.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.obsMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs
	o.obsMu.Unlock()

	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) emit(ls *liveSession, ev models.CallEvent) {
	ev.CallID = ls.sess.CallID
	ev.TenantID = ls.sess.TenantID
	ev.AgentID = ls.sess.AgentID
	ev.CampaignID = ls.sess.CampaignID
	ev.Timestamp = o.now().UnixMilli()

	ls.emitMu.Lock()
	defer ls.emitMu.Unlock()
	if ls.sealed {
		ls.log.Debug().Str("eventType", string(ev.EventType)).Msg("Event after session end dropped")
		return
	}
	if ev.EventType == models.EventSessionEnded {
		ls.sealed = true
	}

	o.obsMu.RLock()
	observers := make([]Observer, 0, len(o.observers))
	for _, obs := range o.observers {
		observers = append(observers, obs)
	}
	o.obsMu.RUnlock()

	for _, obs := range observers {
		deliver(obs, ev)
	}
}

func deliver(obs Observer, ev models.CallEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("eventType", string(ev.EventType)).Msg("Observer panicked")
		}
	}()
	obs.OnCallEvent(ev)
}

// endedCache keeps the stats of recently ended sessions, evicting the
// oldest beyond its capacity. Callers hold Orchestrator.mu.
type endedCache struct {
	cap   int
	order []string
	stats map[string]models.Stats
}

func newEndedCache(capacity int) *endedCache {
	return &endedCache{cap: capacity, stats: make(map[string]models.Stats)}
}

func (c *endedCache) put(callID string, st models.Stats) {
	if _, ok := c.stats[callID]; !ok {
		c.order = append(c.order, callID)
	}
	c.stats[callID] = st
	for len(c.order) > c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.stats, oldest)
	}
}

func (c *endedCache) get(callID string) (models.Stats, bool) {
	st, ok := c.stats[callID]
	return st, ok
}

func (c *endedCache) remove(callID string) {
	if _, ok := c.stats[callID]; !ok {
		return
	}
	delete(c.stats, callID)
	for i, id := range c.order {
		if id == callID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
