package propagation

import "sync"

// mailbox is an unbounded FIFO queue. post never blocks, so a unit can hand
// work to its engine from any goroutine.
type mailbox struct {
	mu     sync.Mutex
	queue  []any
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg any) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest message.
func (m *mailbox) pop() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return msg, true
}

// ready is signalled after a post.
func (m *mailbox) ready() <-chan struct{} {
	return m.notify
}
