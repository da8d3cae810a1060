package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
	"github.com/snarg/clip-engine/internal/events"
)

func TestEventTopic(t *testing.T) {
	tests := []struct {
		name string
		e    events.Event
		want string
	}{
		{"job", events.Event{Type: events.TypeJob, SubType: "parsing", JobID: "j1", RunID: "r1"}, "ce/jobs/j1/parsing"},
		{"run", events.Event{Type: events.TypeRun, SubType: "halted", RunID: "r1"}, "ce/runs/r1/halted"},
		{"other", events.Event{Type: "system"}, "ce/system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EventTopic("ce", tt.e); got != tt.want {
				t.Errorf("EventTopic = %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []batch.Request
	err  error
	got  chan struct{}
}

func (f *fakeSubmitter) SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.got != nil {
		select {
		case f.got <- struct{}{}:
		default:
		}
	}
	return batch.Result{RunID: "r1", JobIDs: []string{"j1"}}, f.err
}

func TestSubmitHandler(t *testing.T) {
	f := &fakeSubmitter{}
	h := SubmitHandler(f, time.Second, zerolog.Nop())

	h("submit", []byte("vid00000001"))
	h("submit", []byte(`{"bad json`))
	f.err = errors.New("queue full")
	h("submit", []byte("vid00000002"))

	if len(f.reqs) != 2 {
		t.Fatalf("submitted %d requests, want 2 (invalid payload skipped)", len(f.reqs))
	}
	if f.reqs[0].Sources[0] != "vid00000001" {
		t.Errorf("first request = %+v", f.reqs[0])
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestEmbeddedBrokerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a broker")
	}
	addr := freeAddr(t)
	b, err := StartBroker(addr, zerolog.Nop())
	if err != nil {
		t.Fatalf("StartBroker: %v", err)
	}
	defer b.Close()

	sub := &fakeSubmitter{got: make(chan struct{}, 1)}
	c, err := Connect(Options{
		BrokerURL:   "tcp://" + addr,
		ClientID:    "clip-engine-test",
		EventPrefix: "ce",
		SubmitTopic: "ce/submit",
		Log:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	c.SetMessageHandler(SubmitHandler(sub, time.Second, zerolog.Nop()))

	// observer client for published events
	received := make(chan mqtt.Message, 4)
	obs := mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://" + addr).SetClientID("observer"))
	if tok := obs.Connect(); tok.Wait() && tok.Error() != nil {
		t.Fatal(tok.Error())
	}
	defer obs.Disconnect(100)
	if tok := obs.Subscribe("ce/jobs/#", 1, func(_ mqtt.Client, m mqtt.Message) { received <- m }); tok.Wait() && tok.Error() != nil {
		t.Fatal(tok.Error())
	}

	e := events.Event{ID: "1", Type: events.TypeJob, SubType: "done", JobID: "j1", RunID: "r1", Data: json.RawMessage(`{}`)}
	if err := c.Publish(e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case m := <-received:
		if m.Topic() != "ce/jobs/j1/done" {
			t.Errorf("topic = %q", m.Topic())
		}
		var got events.Event
		if err := json.Unmarshal(m.Payload(), &got); err != nil || got.ID != "1" {
			t.Errorf("payload = %s (%v)", m.Payload(), err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not received")
	}

	// the submit subscription is made in the connect callback, so retry
	// until it is in place
	deadline := time.After(5 * time.Second)
	for i := 0; ; i++ {
		obs.Publish("ce/submit", 1, false, fmt.Sprintf("vid0000000%d", i%10)).Wait()
		select {
		case <-sub.got:
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("submission not delivered")
		}
	}
}
