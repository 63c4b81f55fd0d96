package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/core"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
)

// Publisher fans applied commands out to downstream consumers. It drains
// the core's publish channel, so a slow NATS never backpressures the
// processor; the persist path is the durable one.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.Output
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// eventJSON is the outbound wire format. Journals carry the value
// movements; state-only commands publish with an empty journal list.
type eventJSON struct {
	Sequence       uint64        `json:"sequence"`
	Type           string        `json:"type"`
	Pool           string        `json:"pool,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	Timestamp      int64         `json:"timestamp"`
	StateHash      string        `json:"state_hash"`
	PrevHash       string        `json:"prev_hash"`
	Journals       []journalJSON `json:"journals,omitempty"`
}

type journalJSON struct {
	JournalID string `json:"journal_id"`
	Type      string `json:"type"`
	Asset     string `json:"asset,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
	Account   string `json:"account"`
	Memo      string `json:"memo,omitempty"`
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan core.Output, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       log.With().Str("component", "publisher").Logger(),
		metrics:   metrics,
	}
}

// Run drains the publish channel until the context ends or the channel
// closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				// Non-fatal: consumers can replay from the persisted log.
				p.log.Warn().Err(err).Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out core.Output) error {
	if out.Envelope == nil {
		return p.publishKeeperBatch(ctx, out.Batch)
	}
	env := out.Envelope
	evt := eventJSON{
		Sequence:       env.Sequence,
		Type:           env.Type.String(),
		Pool:           env.Pool,
		IdempotencyKey: env.IdempotencyKey,
		Timestamp:      env.Timestamp,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	}
	if out.Batch != nil {
		evt.Journals = make([]journalJSON, 0, len(out.Batch.Journals))
		for _, j := range out.Batch.Journals {
			evt.Journals = append(evt.Journals, journalJSON{
				JournalID: j.JournalID.String(),
				Type:      j.Type.String(),
				Asset:     string(j.Asset),
				Amount:    j.Amount,
				Account:   j.Account.String(),
				Memo:      j.Memo,
			})
		}
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("olive.events.%s", env.Type.String())
	if env.Pool != "" {
		subject = fmt.Sprintf("%s.%s", subject, env.Pool)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(env.Type.String()).Inc()
	}
	return nil
}

// keeperEventJSON is the wire shape of a keeper-initiated transition. It has
// no command envelope; the batch id doubles as the idempotency handle.
type keeperEventJSON struct {
	Sequence  uint64        `json:"sequence"`
	BatchID   string        `json:"batch_id"`
	Record    string        `json:"record"`
	Timestamp int64         `json:"timestamp"`
	Journals  []journalJSON `json:"journals"`
}

func (p *Publisher) publishKeeperBatch(ctx context.Context, batch *ledger.Batch) error {
	if batch == nil {
		return nil
	}
	evt := keeperEventJSON{
		Sequence:  batch.Sequence,
		BatchID:   batch.BatchID.String(),
		Record:    batch.Record.String(),
		Timestamp: batch.Timestamp,
		Journals:  make([]journalJSON, 0, len(batch.Journals)),
	}
	for _, j := range batch.Journals {
		evt.Journals = append(evt.Journals, journalJSON{
			JournalID: j.JournalID.String(),
			Type:      j.Type.String(),
			Asset:     string(j.Asset),
			Amount:    j.Amount,
			Account:   j.Account.String(),
			Memo:      j.Memo,
		})
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal keeper event: %w", err)
	}
	if _, err := p.js.Publish(ctx, "olive.events.keeper", data); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues("keeper").Inc()
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "OLIVE_EVENTS",
		Subjects:  []string{"olive.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
