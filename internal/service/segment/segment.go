package segment

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator hands out utterance IDs scoped to a call.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

// Next returns "<callId>-utt-<n>", n starting at 1.
func (g *Generator) Next(callId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-utt-%d", callId, n)
}

// Count returns how many IDs have been handed out.
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}

// NewCallID returns a locally generated call identifier for calls that have
// no provider-assigned ID (simulator, inbound websocket without a call SID).
func NewCallID() string {
	return "call-" + uuid.NewString()
}
