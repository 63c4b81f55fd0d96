// Package ingestion is the inbound shell around the single-threaded core:
// it consumes commands and price ticks from NATS JetStream, parses and
// validates them, and hands typed commands to the processor. Outbound
// envelopes go back out through the Publisher.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subscriber consumes JetStream subjects and feeds raw commands into the
// shell via commandChan. One consumer per subject so feeds scale
// independently of user traffic.
type Subscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	log         zerolog.Logger
	consumers   []jetstream.ConsumeContext
}

// RawCommand is a consumed-but-untyped message, ready for the shell to
// parse into a typed event.Command before it reaches the core.
type RawCommand struct {
	Subject   string
	Kind      string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the core has applied the command
	NakFunc   func() // NAK on failure; JetStream redelivers
}

// SubjectConfig maps one JetStream subject to a command kind.
type SubjectConfig struct {
	Subject      string
	Kind         string
	ConsumerName string
	StreamName   string
}

const (
	commandStream = "OLIVE_COMMANDS"
	priceStream   = "OLIVE_PRICES"
)

// DefaultSubjects returns the standard subject layout. User commands live
// under olive.cmd.<kind>.<pool>, price ticks under olive.prices.<asset>.
func DefaultSubjects() []SubjectConfig {
	kinds := []string{
		"open_position", "close_position", "cancel_limit",
		"add_collateral", "remove_collateral", "increase_size", "decrease_size",
		"open_option", "close_option", "exercise_option", "claim_option", "edit_option",
		"open_future", "close_future", "cancel_future_limit", "claim_future",
		"set_trigger", "update_trigger", "remove_trigger",
	}
	configs := make([]SubjectConfig, 0, len(kinds)+1)
	for _, kind := range kinds {
		configs = append(configs, SubjectConfig{
			Subject:      fmt.Sprintf("olive.cmd.%s.>", kind),
			Kind:         kind,
			ConsumerName: fmt.Sprintf("olive-cmd-%s", kind),
			StreamName:   commandStream,
		})
	}
	configs = append(configs, SubjectConfig{
		Subject:      "olive.prices.>",
		Kind:         "price_update",
		ConsumerName: "olive-prices",
		StreamName:   priceStream,
	})
	return configs
}

func NewSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:          js,
		commandChan: commandChan,
		log:         log.With().Str("component", "ingestion").Logger(),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK so a crash mid-apply redelivers.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Kind:      cfg.Kind,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case s.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerContext)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      commandStream,
			Subjects:  []string{"olive.cmd.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			// Price ticks are superseded quickly; a short retention keeps
			// replay-after-restart from flooding the core with dead quotes.
			Name:      priceStream,
			Subjects:  []string{"olive.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    1 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
