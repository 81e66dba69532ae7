package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centromex/rental-bot/internal/models"
)

type fakeResolver struct {
	targets map[int64]Target
	err     error
}

func (f *fakeResolver) Resolve(ctx context.Context, id int64) (Target, error) {
	if f.err != nil {
		return Target{}, f.err
	}
	target, ok := f.targets[id]
	if !ok {
		return Target{}, ErrTargetNotFound
	}
	return target, nil
}

type sent struct {
	target Target
	text   string
}

type fakeSink struct {
	sent []sent
	err  error
}

func (f *fakeSink) Reply(ctx context.Context, target Target, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{target, text})
	return nil
}

type fakeJournal struct {
	entries []Delivery
}

func (f *fakeJournal) RecordDelivery(ctx context.Context, d Delivery) error {
	f.entries = append(f.entries, d)
	return nil
}

func newTestDispatcher(resolver Resolver, sink Sink, journal Journal) *Dispatcher {
	return NewDispatcher(resolver, sink, Options{
		Journal: journal,
		Logger:  log.New(io.Discard, "", 0),
		Now:     func() time.Time { return time.Unix(1700000000, 0) },
	})
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Your order is Issued!", StatusMessage(models.StatusIssued))
	assert.Equal(t, "Your order is Cancelled!", StatusMessage(models.StatusCancelled))
	assert.Equal(t, "Your order is Delivered!", StatusMessage(models.StatusDelivered))
}

func TestDispatchRepliesToResolvedTarget(t *testing.T) {
	resolver := &fakeResolver{targets: map[int64]Target{111: {ChatID: -100, MessageID: 111}}}
	sink := &fakeSink{}
	journal := &fakeJournal{}
	d := newTestDispatcher(resolver, sink, journal)

	err := d.Dispatch(context.Background(), models.Transition{ID: 111, From: models.StatusEmpty, To: models.StatusIssued})
	require.NoError(t, err)

	require.Len(t, sink.sent, 1)
	assert.Equal(t, Target{ChatID: -100, MessageID: 111}, sink.sent[0].target)
	assert.Equal(t, "Your order is Issued!", sink.sent[0].text)

	require.Len(t, journal.entries, 1)
	assert.Equal(t, OutcomeDelivered, journal.entries[0].Outcome)
	assert.Equal(t, time.Unix(1700000000, 0), journal.entries[0].At)
}

func TestDispatchTargetNotFoundIsNotAnError(t *testing.T) {
	sink := &fakeSink{}
	journal := &fakeJournal{}
	d := newTestDispatcher(&fakeResolver{}, sink, journal)

	err := d.Dispatch(context.Background(), models.Transition{ID: 5, To: models.StatusDelivered})
	require.NoError(t, err)
	assert.Empty(t, sink.sent)
	require.Len(t, journal.entries, 1)
	assert.Equal(t, OutcomeNotFound, journal.entries[0].Outcome)
}

func TestDispatchResolveFailure(t *testing.T) {
	sink := &fakeSink{}
	journal := &fakeJournal{}
	boom := errors.New("telegram unavailable")
	d := newTestDispatcher(&fakeResolver{err: boom}, sink, journal)

	err := d.Dispatch(context.Background(), models.Transition{ID: 5, To: models.StatusDelivered})
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.sent)
	require.Len(t, journal.entries, 1)
	assert.Equal(t, OutcomeFailed, journal.entries[0].Outcome)
}

func TestDispatchReplyFailure(t *testing.T) {
	resolver := &fakeResolver{targets: map[int64]Target{5: {ChatID: 1, MessageID: 5}}}
	boom := errors.New("forbidden")
	journal := &fakeJournal{}
	d := newTestDispatcher(resolver, &fakeSink{err: boom}, journal)

	err := d.Dispatch(context.Background(), models.Transition{ID: 5, To: models.StatusCancelled})
	assert.ErrorIs(t, err, ErrDelivery)
	require.Len(t, journal.entries, 1)
	assert.Equal(t, OutcomeFailed, journal.entries[0].Outcome)
	assert.Contains(t, journal.entries[0].Detail, "forbidden")
	assert.Equal(t, Target{ChatID: 1, MessageID: 5}, journal.entries[0].Target)
}

func TestDispatchWithoutJournal(t *testing.T) {
	resolver := &fakeResolver{targets: map[int64]Target{5: {ChatID: 1, MessageID: 5}}}
	sink := &fakeSink{}
	d := newTestDispatcher(resolver, sink, nil)

	require.NoError(t, d.Dispatch(context.Background(), models.Transition{ID: 5, To: models.StatusIssued}))
	assert.Len(t, sink.sent, 1)
}
