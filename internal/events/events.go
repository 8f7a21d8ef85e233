// Package events carries increment notifications over Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tckz/tally-counter/internal/tally"
)

// Event is published once per applied increment.
type Event struct {
	ID       string    `json:"id"`
	Weekday  int       `json:"weekday"`
	Total    int64     `json:"total"`
	Weekdays [7]int64  `json:"weekdays"`
	At       time.Time `json:"at"`
}

func NewEvent(day time.Weekday, rec tally.Record, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Weekday:  int(day),
		Total:    rec.Total,
		Weekdays: rec.Weekdays,
		At:       at.UTC(),
	}
}

func (e Event) Record() tally.Record {
	return tally.Record{Total: e.Total, Weekdays: e.Weekdays}
}

func (e Event) Message() (*pubsub.Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return &pubsub.Message{
		Data: b,
		Attributes: map[string]string{
			"event_id": e.ID,
			"weekday":  time.Weekday(e.Weekday).String(),
		},
	}, nil
}

func Decode(msg *pubsub.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		return Event{}, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return e, nil
}

var _ tally.Notifier = (*Publisher)(nil)

// Publisher sends events to a topic without blocking the caller; results are
// collected in the background and failures only logged.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.SugaredLogger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewPublisher takes ownership of client; Close closes it.
func NewPublisher(client *pubsub.Client, topicID string, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger.With(zap.String("topic", topicID)),
		now:    time.Now,
	}
}

func (p *Publisher) Notify(ctx context.Context, day time.Weekday, rec tally.Record) {
	ev := NewEvent(day, rec, p.now())
	msg, err := ev.Message()
	if err != nil {
		p.logger.Errorf("Message: %v", err)
		return
	}

	// The request context ends with the response; publishing must outlive it.
	res := p.topic.Publish(context.WithoutCancel(ctx), msg)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := res.Get(context.Background()); err != nil {
			p.logger.With(zap.String("event_id", ev.ID)).Errorf("Publish: %v", err)
		}
	}()
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	p.wg.Wait()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("client.Close: %w", err)
	}
	return nil
}
