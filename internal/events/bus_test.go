package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

// ── Publish/Subscribe ─────────────────────────────────────────────────

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish(Data{
			Type:    TypeJob,
			SubType: "downloading",
			RunID:   "r1",
			JobID:   "j1",
			Payload: map[string]string{"msg": "hello"},
		})

		select {
		case evt := <-ch:
			if evt.Type != TypeJob || evt.SubType != "downloading" {
				t.Errorf("Type = %q:%q, want job:downloading", evt.Type, evt.SubType)
			}
			if evt.JobID != "j1" || evt.RunID != "r1" {
				t.Errorf("ids = %q/%q, want r1/j1", evt.RunID, evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["msg"] != "hello" {
				t.Errorf("payload msg = %q, want hello", payload["msg"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{TypeRun}})
		defer cancel()

		b.Publish(Data{Type: TypeJob, Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		cancel()
		if n := b.SubscriberCount(); n != 0 {
			t.Fatalf("SubscriberCount = %d, want 0", n)
		}

		b.Publish(Data{Type: TypeJob, Payload: "x"})

		select {
		case <-ch:
			t.Fatal("should not receive event after cancel")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("slow_subscriber_does_not_block", func(t *testing.T) {
		b := NewBus(8)
		_, cancel := b.Subscribe(Filter{})
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < 200; i++ {
				b.Publish(Data{Type: TypeJob, Payload: i})
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a full subscriber")
		}
	})
}

// ── ReplaySince ───────────────────────────────────────────────────────

func TestBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: TypeJob, Payload: "a"})
		b.Publish(Data{Type: TypeRun, Payload: "b"})

		if got := b.ReplaySince("", Filter{}); len(got) != 2 {
			t.Fatalf("got %d events, want 2", len(got))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: TypeJob, SubType: "queued", Payload: "a"})
		first := b.ReplaySince("", Filter{})[0].ID
		b.Publish(Data{Type: TypeJob, SubType: "done", Payload: "b"})

		got := b.ReplaySince(first, Filter{})
		if len(got) != 1 {
			t.Fatalf("got %d events, want 1", len(got))
		}
		if got[0].SubType != "done" {
			t.Errorf("SubType = %q, want done", got[0].SubType)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: TypeJob, Payload: "a"})

		if got := b.ReplaySince("nonexistent-id", Filter{}); len(got) != 1 {
			t.Fatalf("got %d events, want 1", len(got))
		}
	})

	t.Run("ring_wraps_oldest_first", func(t *testing.T) {
		b := NewBus(3)
		for i := 0; i < 5; i++ {
			b.Publish(Data{Type: TypeJob, JobID: fmt.Sprint(i), Payload: i})
		}
		got := b.ReplaySince("", Filter{})
		if len(got) != 3 {
			t.Fatalf("got %d events, want 3", len(got))
		}
		for i, want := range []string{"2", "3", "4"} {
			if got[i].JobID != want {
				t.Errorf("event %d JobID = %q, want %q", i, got[i].JobID, want)
			}
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		b := NewBus(64)
		b.Publish(Data{Type: TypeJob, RunID: "r1", Payload: "a"})
		b.Publish(Data{Type: TypeJob, RunID: "r2", Payload: "b"})

		got := b.ReplaySince("", Filter{RunIDs: []string{"r2"}})
		if len(got) != 1 || got[0].RunID != "r2" {
			t.Fatalf("got %+v, want one r2 event", got)
		}
	})
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		filter Filter
		want   bool
	}{
		{"empty_filter_matches_all", Event{Type: TypeJob, RunID: "r"}, Filter{}, true},
		{"type_match", Event{Type: TypeJob}, Filter{Types: []string{"job"}}, true},
		{"type_no_match", Event{Type: TypeJob}, Filter{Types: []string{"run"}}, false},
		{"compound_exact", Event{Type: TypeJob, SubType: "failed"}, Filter{Types: []string{"job:failed"}}, true},
		{"compound_wrong_subtype", Event{Type: TypeJob, SubType: "done"}, Filter{Types: []string{"job:failed"}}, false},
		{"plain_matches_any_subtype", Event{Type: TypeJob, SubType: "done"}, Filter{Types: []string{"job"}}, true},
		{"mixed_types", Event{Type: TypeRun, SubType: "halted"}, Filter{Types: []string{"job:failed", " run"}}, true},
		{"run_match", Event{Type: TypeJob, RunID: "r1"}, Filter{RunIDs: []string{"r0", "r1"}}, true},
		{"run_no_match", Event{Type: TypeJob, RunID: "r1"}, Filter{RunIDs: []string{"r2"}}, false},
		{"job_match", Event{Type: TypeJob, JobID: "j"}, Filter{JobIDs: []string{"j"}}, true},
		{"run_event_has_no_job", Event{Type: TypeRun, RunID: "r1"}, Filter{JobIDs: []string{"j"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.event, tt.filter); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewer(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1000-2", "1000-1", true},
		{"1000-1", "1000-2", false},
		{"1001-1", "1000-9", true},
		{"999-50", "1000-1", false},
		{"1000-1", "1000-1", false},
	}
	for _, tt := range tests {
		if got := Newer(tt.a, tt.b); got != tt.want {
			t.Errorf("Newer(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
