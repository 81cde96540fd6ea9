package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// Topic carries every store event.
const Topic = "segclient.store"

// Watermill publishes events on an in-process gochannel pub/sub so several
// consumers (the CLI watcher, loggers) can follow store changes.
type Watermill struct {
	ps  *gochannel.GoChannel
	log zerolog.Logger
}

// NewWatermill creates the pub/sub. Publish blocks until every subscriber
// has acknowledged the previous message, which keeps delivery ordered.
func NewWatermill(log *zerolog.Logger) *Watermill {
	l := zerolog.Nop()
	if log != nil {
		l = log.With().Str("component", "eventbus").Logger()
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, NewLoggerAdapter(l))
	return &Watermill{ps: ps, log: l}
}

func (w *Watermill) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		w.log.Warn().Err(err).Str("event", e.Name).Msg("encode event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("store", e.Store)
	msg.Metadata.Set("name", e.Name)
	if err := w.ps.Publish(Topic, msg); err != nil {
		w.log.Debug().Err(err).Str("event", e.Name).Msg("publish dropped")
	}
}

// Subscribe returns a channel of decoded events that closes when ctx is
// done or the bus is closed.
func (w *Watermill) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := w.ps.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			err := json.Unmarshal(msg.Payload, &e)
			// ack first so the publisher is never held by a slow consumer
			msg.Ack()
			if err != nil {
				w.log.Warn().Err(err).Str("uuid", msg.UUID).Msg("decode event")
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (w *Watermill) Close() error { return w.ps.Close() }

// loggerAdapter routes watermill logs through zerolog.
type loggerAdapter struct {
	log zerolog.Logger
}

// NewLoggerAdapter wraps l as a watermill.LoggerAdapter.
func NewLoggerAdapter(l zerolog.Logger) watermill.LoggerAdapter {
	return loggerAdapter{log: l}
}

func (a loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (a loggerAdapter) Info(msg string, fields watermill.LogFields) {
	// gochannel reports routine events at info; keep them at debug
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (a loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (a loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{log: a.log.With().Fields(map[string]any(fields)).Logger()}
}
