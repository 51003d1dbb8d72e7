package memory

import (
	"context"
	"sort"
	"time"

	"freelancehub/internal/model"
	"freelancehub/internal/repository"
	"freelancehub/pkg/outbox"
)

type notificationRepo struct{ s *Store }

func (r notificationRepo) Persist(_ context.Context, n *model.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.notifications {
		if existing.EventID == n.EventID && existing.UserID == n.UserID {
			*n = existing
			return false, nil
		}
	}
	n.ID = r.s.st.nextID()
	n.CreatedAt = r.s.tick()
	r.s.st.notifications[n.ID] = *n
	return true, nil
}

func (r notificationRepo) ListByUser(_ context.Context, userID int64, unreadOnly bool, limit int) ([]*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Notification
	for _, n := range r.s.st.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		n := n
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r notificationRepo) MarkRead(_ context.Context, userID, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.st.notifications[id]
	if !ok || n.UserID != userID {
		return repository.ErrNotFound
	}
	if !n.IsRead {
		now := r.s.now()
		n.IsRead = true
		n.ReadAt = &now
		r.s.st.notifications[id] = n
	}
	return nil
}

func (r notificationRepo) Delete(_ context.Context, userID, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.st.notifications[id]
	if !ok || n.UserID != userID {
		return repository.ErrNotFound
	}
	delete(r.s.st.notifications, id)
	return nil
}

type outboxSource struct{ s *Store }

func (o outboxSource) sorted(match func(outbox.Event) bool, limit int, desc bool) []*outbox.Event {
	var out []*outbox.Event
	for _, e := range o.s.st.events {
		if match(e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (o outboxSource) GetPendingEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	now := o.s.now()
	return o.sorted(func(e outbox.Event) bool {
		return e.Status == outbox.StatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
	}, limit, false), nil
}

func (o outboxSource) update(id int64, fn func(e *outbox.Event)) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	e, ok := o.s.st.events[id]
	if !ok {
		return outbox.ErrEventNotFound
	}
	fn(&e)
	e.UpdatedAt = o.s.now()
	o.s.st.events[id] = e
	return nil
}

func (o outboxSource) MarkAsSent(_ context.Context, id int64) error {
	return o.update(id, func(e *outbox.Event) { e.Status = outbox.StatusSent })
}

func (o outboxSource) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	return o.update(id, func(e *outbox.Event) {
		e.RetryCount++
		e.Status, e.NextRetryAt = outbox.NextAttempt(e.RetryCount, maxRetries, time.Now())
	})
}

func (o outboxSource) GetEventByID(_ context.Context, id int64) (*outbox.Event, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	e, ok := o.s.st.events[id]
	if !ok {
		return nil, outbox.ErrEventNotFound
	}
	return &e, nil
}

func (o outboxSource) ReplayEvent(_ context.Context, id int64) error {
	return o.update(id, func(e *outbox.Event) {
		e.Status = outbox.StatusPending
		e.RetryCount = 0
		e.NextRetryAt = nil
	})
}

func (o outboxSource) GetFailedEvents(_ context.Context, limit int) ([]*outbox.Event, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return o.sorted(func(e outbox.Event) bool { return e.Status == outbox.StatusFailed }, limit, true), nil
}
