// Package notify tells requesters when the status of their request changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/centromex/rental-bot/internal/metrics"
	"github.com/centromex/rental-bot/internal/models"
)

// Errors reported by resolvers and the dispatcher.
var (
	ErrTargetNotFound = errors.New("notification target not found")
	ErrDelivery       = errors.New("notification delivery failed")
)

// Target is the chat message a notification replies to.
type Target struct {
	ChatID    int64
	MessageID int
}

// Resolver finds where the message with the given ID was posted. It returns
// ErrTargetNotFound when no accessible chat has it.
type Resolver interface {
	Resolve(ctx context.Context, messageID int64) (Target, error)
}

// Sink delivers a reply to a chat message.
type Sink interface {
	Reply(ctx context.Context, target Target, text string) error
}

// Outcome is the result of one dispatch, as journaled and counted.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

// Delivery is one dispatch attempt as recorded in the journal.
type Delivery struct {
	MessageID int64
	From      models.Status
	To        models.Status
	Outcome   Outcome
	Target    Target
	Detail    string
	At        time.Time
}

// Journal records every dispatch outcome.
type Journal interface {
	RecordDelivery(ctx context.Context, d Delivery) error
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Dispatcher. Every field is optional.
type Options struct {
	Journal Journal
	Logger  Logger
	Now     func() time.Time
}

// Dispatcher turns status transitions into replies to the originating message.
type Dispatcher struct {
	resolver Resolver
	sink     Sink
	journal  Journal
	logger   Logger
	now      func() time.Time
}

// NewDispatcher returns a dispatcher that resolves targets with resolver and
// replies through sink.
func NewDispatcher(resolver Resolver, sink Sink, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		resolver: resolver,
		sink:     sink,
		journal:  opts.Journal,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Dispatch replies to the message that created the record. A missing target
// is logged and is not an error. Resolution and delivery failures are logged
// and returned wrapped in ErrDelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, tr models.Transition) error {
	entry := Delivery{MessageID: tr.ID, From: tr.From, To: tr.To}

	target, err := d.resolver.Resolve(ctx, tr.ID)
	if errors.Is(err, ErrTargetNotFound) {
		d.logger.Printf("[notify] message %d not found or not accessible", tr.ID)
		entry.Outcome = OutcomeNotFound
		d.record(ctx, entry)
		return nil
	}
	if err != nil {
		return d.failed(ctx, entry, fmt.Errorf("resolve message %d: %w", tr.ID, err))
	}
	entry.Target = target

	if err := d.sink.Reply(ctx, target, StatusMessage(tr.To)); err != nil {
		return d.failed(ctx, entry, fmt.Errorf("reply to message %d in chat %d: %w", tr.ID, target.ChatID, err))
	}

	d.logger.Printf("[notify] sent status update for message %d", tr.ID)
	entry.Outcome = OutcomeDelivered
	d.record(ctx, entry)
	return nil
}

func (d *Dispatcher) failed(ctx context.Context, entry Delivery, err error) error {
	d.logger.Printf("[notify] error sending status update for message %d: %v", entry.MessageID, err)
	entry.Outcome = OutcomeFailed
	entry.Detail = err.Error()
	d.record(ctx, entry)
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}

func (d *Dispatcher) record(ctx context.Context, entry Delivery) {
	metrics.Notifications.WithLabelValues(string(entry.Outcome)).Inc()
	if d.journal == nil {
		return
	}
	entry.At = d.now()
	if err := d.journal.RecordDelivery(ctx, entry); err != nil {
		d.logger.Printf("[notify] could not journal delivery for message %d: %v", entry.MessageID, err)
	}
}
