package polyllm

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistorySize is the History capacity used when none is requested.
const DefaultHistorySize = 50

// Interaction is one recorded prompt/response pair.
type Interaction struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
	Usage     Usage     `json:"usage,omitempty"`
}

// History is a bounded FIFO of interactions backed by a ring buffer.
// Once full, each Add evicts the oldest entry.
type History struct {
	mu       sync.RWMutex
	capacity int
	buf      []Interaction
	start    int // index of the oldest entry
	size     int
}

// NewHistory creates a History holding at most capacity interactions.
// A negative capacity is treated as zero, which records nothing.
func NewHistory(capacity int) *History {
	if capacity < 0 {
		capacity = 0
	}
	return &History{
		capacity: capacity,
		buf:      make([]Interaction, capacity),
	}
}

// Add records prompt together with resp.
func (h *History) Add(prompt string, resp Response) {
	it := Interaction{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Response:  resp.Content,
		Model:     resp.Model,
		Provider:  resp.Provider,
		Timestamp: resp.Timestamp,
		Usage:     maps.Clone(resp.Usage),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.capacity == 0 {
		return
	}
	if h.size < h.capacity {
		h.buf[(h.start+h.size)%h.capacity] = it
		h.size++
		return
	}
	h.buf[h.start] = it
	h.start = (h.start + 1) % h.capacity
}

// All returns every recorded interaction, oldest first.
func (h *History) All() []Interaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastLocked(h.size)
}

// Last returns the most recent n interactions, oldest of the window first.
// n larger than Size returns everything; n <= 0 returns nothing.
func (h *History) Last(n int) []Interaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastLocked(n)
}

func (h *History) lastLocked(n int) []Interaction {
	if n <= 0 || h.size == 0 {
		return []Interaction{}
	}
	if n > h.size {
		n = h.size
	}
	out := make([]Interaction, n)
	first := h.start + h.size - n
	for i := range n {
		out[i] = h.buf[(first+i)%h.capacity]
	}
	return out
}

// Messages renders the whole history as alternating user/assistant messages.
func (h *History) Messages() []Message {
	return toMessages(h.All())
}

// LastMessages renders the most recent n interactions as alternating
// user/assistant messages: two messages per interaction, oldest first.
func (h *History) LastMessages(n int) []Message {
	return toMessages(h.Last(n))
}

func toMessages(items []Interaction) []Message {
	msgs := make([]Message, 0, 2*len(items))
	for _, it := range items {
		msgs = append(msgs, UserMessage(it.Prompt), AssistantMessage(it.Response))
	}
	return msgs
}

// Clear removes all interactions.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start = 0
	h.size = 0
}

// Size returns the number of recorded interactions.
func (h *History) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// IsEmpty reports whether nothing is recorded.
func (h *History) IsEmpty() bool {
	return h.Size() == 0
}

// Capacity returns the maximum number of interactions kept.
func (h *History) Capacity() int {
	return h.capacity
}
