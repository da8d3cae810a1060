package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
)

type fakeAck struct{ acked, nacked, rejected, requeue bool }

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_, requeue bool) error {
	f.nacked, f.requeue = true, requeue
	return nil
}
func (f *fakeAck) Reject(requeue bool) error {
	f.rejected, f.requeue = true, requeue
	return nil
}

type fakeSubmitter struct {
	res batch.Result
	err error
	got []batch.Request
}

func (f *fakeSubmitter) SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

func discard(context.Context, batch.Request) error { return nil }

func TestProcess(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		res     batch.Result
		err     error
		wantAck string
		requeue bool
	}{
		{"queued", `{"name":"talks","sources":["vid00000001"]}`, batch.Result{JobIDs: []string{"j1"}}, nil, "ack", false},
		{"plain_text", "vid00000001\nvid00000002", batch.Result{JobIDs: []string{"j1", "j2"}}, nil, "ack", false},
		{"bad_json", `{"name":`, batch.Result{}, nil, "reject", false},
		{"queue_full_nothing_queued", "vid00000001", batch.Result{}, batch.ErrQueueFull, "nack", true},
		{"queue_full_partial", "vid00000001\nvid00000002", batch.Result{RunID: "r1", JobIDs: []string{"j1"}, Pending: []string{"vid00000002"}}, batch.ErrQueueFull, "ack", false},
		{"other_error", "vid00000001", batch.Result{}, errors.New("boom"), "reject", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{res: tt.res, err: tt.err}
			c := NewConsumer("amqp://unused", "q", sub, zerolog.Nop())
			ack := &fakeAck{}
			c.process(context.Background(), []byte(tt.body), ack, "m1", discard)

			var got string
			switch {
			case ack.acked:
				got = "ack"
			case ack.nacked:
				got = "nack"
			case ack.rejected:
				got = "reject"
			}
			if got != tt.wantAck {
				t.Errorf("outcome = %q, want %q", got, tt.wantAck)
			}
			if ack.requeue != tt.requeue {
				t.Errorf("requeue = %v, want %v", ack.requeue, tt.requeue)
			}
		})
	}
}

func TestProcessPassesRequest(t *testing.T) {
	sub := &fakeSubmitter{res: batch.Result{JobIDs: []string{"j1"}}}
	c := NewConsumer("amqp://unused", "q", sub, zerolog.Nop())
	c.process(context.Background(), []byte(`{"run_id":"r1","url":"vid00000001"}`), &fakeAck{}, "m1", discard)
	if len(sub.got) != 1 || sub.got[0].RunID != "r1" || sub.got[0].URL != "vid00000001" {
		t.Errorf("request = %+v", sub.got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewConsumer("amqp://127.0.0.1:1/", "q", &fakeSubmitter{}, zerolog.Nop())
	if err := c.Run(ctx); err != nil {
		t.Errorf("Run on cancelled ctx = %v, want nil", err)
	}
}

func TestProcessRepublishesUnqueuedSources(t *testing.T) {
	sub := &fakeSubmitter{
		res: batch.Result{RunID: "r1", JobIDs: []string{"j1"}, Pending: []string{"vid00000002", "vid00000003"}},
		err: batch.ErrQueueFull,
	}
	c := NewConsumer("amqp://unused", "q", sub, zerolog.Nop())

	var published []batch.Request
	pub := func(_ context.Context, req batch.Request) error {
		published = append(published, req)
		return nil
	}
	ack := &fakeAck{}
	c.process(context.Background(), []byte(`{"name":"talks","sources":["vid00000001","vid00000002","vid00000003"]}`), ack, "m1", pub)

	if !ack.acked {
		t.Errorf("original message not acked: %+v", ack)
	}
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}
	got := published[0]
	if got.RunID != "r1" || got.Name != "" || len(got.Sources) != 2 || got.Sources[0] != "vid00000002" {
		t.Errorf("republished = %+v, want run r1 with the two unqueued sources", got)
	}

	ack = &fakeAck{}
	c.process(context.Background(), []byte("vid00000001\nvid00000002"), ack, "m2", func(context.Context, batch.Request) error {
		return errors.New("channel closed")
	})
	if !ack.nacked || !ack.requeue {
		t.Errorf("failed republish should nack with requeue, got %+v", ack)
	}
}
