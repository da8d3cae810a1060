// Package events fans job and run lifecycle events out to live subscribers
// (SSE, websocket) and keeps a short ring buffer for reconnect replay.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeJob = "job" // SubType is the new job state
	TypeRun = "run" // SubType is created, halted, cancelled or finished
)

// Event is one published lifecycle event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	SubType   string          `json:"subtype,omitempty"`
	Timestamp string          `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects events for a subscriber. Empty fields match everything.
// Types entries are either "type" or "type:subtype".
type Filter struct {
	Types  []string
	RunIDs []string
	JobIDs []string
}

// Data holds the fields needed to publish an event.
type Data struct {
	Type    string
	SubType string
	RunID   string
	JobID   string
	Payload any
}

// Bus provides pub-sub event distribution with a replay ring buffer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates a bus with the given ring buffer size.
func NewBus(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel func.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events after lastEventID, oldest first. If the
// id is empty or no longer buffered, every buffered event is returned.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	ordered := make([]Event, 0, b.ringSize)
	start := 0
	for i := 0; i < b.ringSize; i++ {
		e := b.ring[(b.ringHead+i)%b.ringSize]
		if e.ID == "" {
			continue
		}
		ordered = append(ordered, e)
		if lastEventID != "" && e.ID == lastEventID {
			start = len(ordered)
		}
	}

	var out []Event
	for _, e := range ordered[start:] {
		if Matches(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

// Publish sends an event to matching subscribers and records it for replay.
// Slow subscribers miss events rather than block the publisher.
func (b *Bus) Publish(d Data) {
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return
	}

	now := time.Now()
	e := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), b.seq.Add(1)),
		Type:      d.Type,
		SubType:   d.SubType,
		Timestamp: now.UTC().Format(time.RFC3339),
		RunID:     d.RunID,
		JobID:     d.JobID,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if Matches(e, sub.filter) {
			select {
			case sub.ch <- e:
			default:
			}
		}
	}
	b.mu.RUnlock()
}

// Matches reports whether e passes f.
func Matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if base, sub, ok := strings.Cut(t, ":"); ok {
				match = base == e.Type && sub == e.SubType
			} else {
				match = t == e.Type
			}
			if match {
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.RunIDs) > 0 && !contains(f.RunIDs, e.RunID) {
		return false
	}
	if len(f.JobIDs) > 0 && !contains(f.JobIDs, e.JobID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) == v {
			return true
		}
	}
	return false
}

// Newer reports whether event id a sorts after b: by timestamp, then by
// sequence number.
func Newer(a, b string) bool {
	am, as := splitID(a)
	bm, bs := splitID(b)
	if am != bm {
		return am > bm
	}
	return as > bs
}

func splitID(id string) (ms, seq uint64) {
	m, s, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseUint(m, 10, 64)
	seq, _ = strconv.ParseUint(s, 10, 64)
	return ms, seq
}
