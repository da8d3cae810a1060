// Package mqttclient publishes job events to an MQTT broker and accepts
// submissions on a topic.
package mqttclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/events"
	"github.com/snarg/clip-engine/internal/metrics"
)

type MessageHandler func(topic string, payload []byte)

type Client struct {
	conn        mqtt.Client
	prefix      string
	submitTopic string
	connected   atomic.Bool
	log         zerolog.Logger
	handler     atomic.Pointer[MessageHandler]
}

type Options struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	EventPrefix string // events go to <prefix>/jobs/<id>/<state> and <prefix>/runs/<id>/<what>
	SubmitTopic string // empty disables submissions
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		prefix:      strings.TrimRight(opts.EventPrefix, "/"),
		submitTopic: opts.SubmitTopic,
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetMessageHandler sets the handler for messages on the submit topic.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.handler.Store(&h)
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	if c.submitTopic == "" {
		c.log.Info().Msg("mqtt connected")
		return
	}
	c.log.Info().Str("topic", c.submitTopic).Msg("mqtt connected, subscribing")
	token := client.Subscribe(c.submitTopic, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if h := c.handler.Load(); h != nil {
		(*h)(msg.Topic(), msg.Payload())
		return
	}
	c.log.Debug().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// Publish sends one event at QoS 1.
func (c *Client) Publish(e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	token := c.conn.Publish(EventTopic(c.prefix, e), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return context.DeadlineExceeded
	}
	return token.Error()
}

// Forward publishes every bus event until ctx is done. Events produced
// while the broker is unreachable are dropped.
func (c *Client) Forward(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.Filter{})
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !c.IsConnected() {
				continue
			}
			if err := c.Publish(e); err != nil {
				c.log.Warn().Err(err).Str("event_id", e.ID).Msg("mqtt publish failed")
				continue
			}
			metrics.EventsPublishedTotal.WithLabelValues("mqtt").Inc()
		}
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}

// EventTopic is the topic an event is published on.
func EventTopic(prefix string, e events.Event) string {
	switch e.Type {
	case events.TypeJob:
		return prefix + "/jobs/" + e.JobID + "/" + e.SubType
	case events.TypeRun:
		return prefix + "/runs/" + e.RunID + "/" + e.SubType
	}
	return prefix + "/" + e.Type
}
