package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"freelancehub/pkg/trace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	mu     sync.Mutex
	events map[int64]*Event
}

func newFakeSource(events ...*Event) *fakeSource {
	s := &fakeSource{events: map[int64]*Event{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeSource) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)) && len(out) < limit; id++ {
		if e, ok := s.events[id]; ok && e.Status == StatusPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSource) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusSent
	return nil
}

func (s *fakeSource) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	e.Status, e.NextRetryAt = NextAttempt(e.RetryCount, maxRetries, time.Now())
	return nil
}

func (s *fakeSource) GetEventByID(_ context.Context, id int64) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (s *fakeSource) ReplayEvent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrEventNotFound
	}
	e.Status, e.RetryCount, e.NextRetryAt = StatusPending, 0, nil
	return nil
}

func (s *fakeSource) GetFailedEvents(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Status == StatusFailed && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type published struct {
	routingKey string
	traceID    string
	body       string
}

type fakePublisher struct {
	fail bool
	got  []published
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.fail {
		return errors.New("broker down")
	}
	body, _ := json.Marshal(payload)
	p.got = append(p.got, published{routingKey, trace.FromContext(ctx), string(body)})
	return nil
}

func pendingEvent(id int64, key, payload string) *Event {
	return &Event{ID: id, RoutingKey: key, Payload: json.RawMessage(payload), Status: StatusPending}
}

func TestDispatcher_PublishesAndMarksSent(t *testing.T) {
	src := newFakeSource(
		pendingEvent(1, "milestone.funded", `{"event_id":"a","trace_id":"t-1"}`),
		pendingEvent(2, "milestone.submitted", `{"event_id":"b"}`),
	)
	pub := &fakePublisher{}
	d := NewDispatcher(src, pub, zap.NewNop())

	sent := d.ProcessPending(context.Background())

	assert.Equal(t, 2, sent)
	require.Len(t, pub.got, 2)
	assert.Equal(t, "milestone.funded", pub.got[0].routingKey)
	assert.Equal(t, "t-1", pub.got[0].traceID)
	assert.JSONEq(t, `{"event_id":"a","trace_id":"t-1"}`, pub.got[0].body)
	assert.Equal(t, StatusSent, src.events[1].Status)
	assert.Equal(t, StatusSent, src.events[2].Status)
}

func TestDispatcher_FailureSchedulesRetryThenGivesUp(t *testing.T) {
	src := newFakeSource(pendingEvent(1, "plan.submitted", `{}`))
	pub := &fakePublisher{fail: true}
	d := NewDispatcher(src, pub, zap.NewNop()).WithMaxRetries(2)

	assert.Equal(t, 0, d.ProcessPending(context.Background()))
	assert.Equal(t, StatusPending, src.events[1].Status)
	assert.Equal(t, 1, src.events[1].RetryCount)
	require.NotNil(t, src.events[1].NextRetryAt)

	d.ProcessPending(context.Background())
	assert.Equal(t, StatusFailed, src.events[1].Status)
	assert.Nil(t, src.events[1].NextRetryAt)
}

func TestReplayService_ReplayFailedEvents(t *testing.T) {
	failed := pendingEvent(1, "plan.approved", `{}`)
	failed.Status = StatusFailed
	failed.RetryCount = 5
	src := newFakeSource(failed, pendingEvent(2, "plan.submitted", `{}`))

	svc := NewReplayService(src, zap.NewNop())
	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusPending, src.events[1].Status)
	assert.Zero(t, src.events[1].RetryCount)

	assert.ErrorIs(t, svc.ReplayEvent(context.Background(), 99), ErrEventNotFound)
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	status, next := NextAttempt(2, 5, now)
	assert.Equal(t, StatusPending, status)
	assert.Equal(t, now.Add(10*time.Second), *next)

	status, next = NextAttempt(5, 5, now)
	assert.Equal(t, StatusFailed, status)
	assert.Nil(t, next)
}
