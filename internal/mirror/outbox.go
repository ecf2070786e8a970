package mirror

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultOutboxLimit = 4096

// commandOutbox buffers commands in send order while a session has no
// transport. Per-session command order is the protocol's only ordering
// guarantee, so this is strictly FIFO.
type commandOutbox struct {
	mu    sync.Mutex
	items []Command
	limit int
}

func newCommandOutbox(limit int) *commandOutbox {
	if limit <= 0 {
		limit = defaultOutboxLimit
	}
	return &commandOutbox{limit: limit}
}

func (o *commandOutbox) push(cmd Command) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) >= o.limit {
		dropped := o.items[0]
		o.items = o.items[1:]
		log.Warn().Str("command", dropped.Name).Str("id", dropped.ID).
			Msg("outbox full, dropping oldest buffered command")
	}
	o.items = append(o.items, cmd)
}

// drain removes and returns all buffered commands in send order.
func (o *commandOutbox) drain() []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}

// requeue puts unsent commands back at the head, preserving order.
func (o *commandOutbox) requeue(cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(append([]Command(nil), cmds...), o.items...)
}

func (o *commandOutbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
