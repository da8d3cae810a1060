package mqttclient

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
)

// Submitter queues a request.
type Submitter interface {
	SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error)
}

// SubmitHandler returns a MessageHandler that queues each payload.
func SubmitHandler(sub Submitter, timeout time.Duration, log zerolog.Logger) MessageHandler {
	return func(topic string, payload []byte) {
		req, err := batch.ParseRequest(payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("invalid submit payload")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := sub.SubmitRequest(ctx, req)
		if err != nil {
			log.Warn().Err(err).Str("topic", topic).Int("queued", len(res.JobIDs)).Msg("mqtt submit failed")
			return
		}
		log.Info().
			Str("run_id", res.RunID).
			Int("jobs", len(res.JobIDs)).
			Int("rejected", len(res.Errors)).
			Msg("mqtt submit queued")
	}
}
