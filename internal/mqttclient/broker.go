package mqttclient

import (
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
)

// Broker is an in-process MQTT broker for deployments without one.
type Broker struct {
	server *mochi.Server
	log    zerolog.Logger
}

// StartBroker listens on addr (host:port) and serves in the background.
// It accepts every client.
func StartBroker(addr string, log zerolog.Logger) (*Broker, error) {
	server := mochi.New(&mochi.Options{InlineClient: false})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "clip-engine", Address: addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}
	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("embedded mqtt broker stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("embedded mqtt broker listening")
	return &Broker{server: server, log: log}, nil
}

func (b *Broker) Close() {
	b.log.Info().Msg("stopping embedded mqtt broker")
	b.server.Close()
}
