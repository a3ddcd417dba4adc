package views

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Counts is the public view of a ledger.
type Counts struct {
	TotalViews     uint64 `json:"views"`
	UniqueVisitors int    `json:"uniqueVisitors"`
}

// Visit is the outcome of RecordVisit.
type Visit struct {
	Counts
	IsNewVisitor bool `json:"isNewVisitor"`
}

// Listener is notified with the new counts after every persisted change.
type Listener interface {
	CountsChanged(c Counts)
}

// Tracker counts visits at most once per identity. It is the only writer of
// its Store; every operation holds the tracker lock for its whole
// load/mutate/persist cycle.
type Tracker struct {
	mu        sync.Mutex
	store     Store
	metrics   *Metrics
	listeners []Listener
	log       *log.Entry
}

type Option func(*Tracker)

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithListener(l Listener) Option {
	return func(t *Tracker) { t.listeners = append(t.listeners, l) }
}

func WithLogger(entry *log.Entry) Option {
	return func(t *Tracker) { t.log = entry }
}

func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		log:   log.WithField("component", "views"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetCount returns the total view count. Failures are logged and reported as 0.
func (t *Tracker) GetCount(ctx context.Context) uint64 {
	c, err := t.Snapshot(ctx)
	if err != nil {
		return 0
	}
	return c.TotalViews
}

// Snapshot returns the current counts, propagating store failures.
func (t *Tracker) Snapshot(ctx context.Context) (Counts, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.store.Load(ctx)
	if err != nil {
		t.metrics.storeError("load")
		t.log.WithError(err).Error("reading view ledger")
		return Counts{}, err
	}

	c := l.Counts()
	t.metrics.observe("", c)
	return c, nil
}

// RecordVisit counts identity if it has never been seen before.
func (t *Tracker) RecordVisit(ctx context.Context, identity string) (Visit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var isNew bool
	l, err := t.store.Update(ctx, func(l *Ledger) (bool, error) {
		isNew = l.AddVisitor(identity)
		if isNew {
			l.TotalViews++
		}
		return isNew, nil
	})
	if err != nil {
		t.metrics.storeError("record")
		t.log.WithError(err).Error("recording visit")
		return Visit{}, err
	}

	v := Visit{Counts: l.Counts(), IsNewVisitor: isNew}
	result := ResultRepeat
	if isNew {
		result = ResultNew
		t.notify(v.Counts)
	}
	t.metrics.observe(result, v.Counts)

	t.log.WithFields(log.Fields{
		"views":  v.TotalViews,
		"unique": v.UniqueVisitors,
		"new":    isNew,
	}).Debug("visit recorded")

	return v, nil
}

// ForceIncrement adds one view without touching the visitor set.
func (t *Tracker) ForceIncrement(ctx context.Context) (Counts, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := t.store.Update(ctx, func(l *Ledger) (bool, error) {
		l.TotalViews++
		return true, nil
	})
	if err != nil {
		t.metrics.storeError("force")
		t.log.WithError(err).Error("incrementing view count")
		return Counts{}, err
	}

	c := l.Counts()
	t.notify(c)
	t.metrics.observe(ResultForced, c)
	t.log.WithField("views", c.TotalViews).Info("view count forcibly incremented")

	return c, nil
}

func (t *Tracker) notify(c Counts) {
	for _, l := range t.listeners {
		l.CountsChanged(c)
	}
}
