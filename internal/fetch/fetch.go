// Package fetch loads collections from the backing services into the store.
//
// Every loader consults the staleness policy first and returns the cached
// copy when it is still fresh. Otherwise it takes a store ticket, calls the
// service and commits the response; responses overtaken by a newer fetch are
// dropped by the store. Concurrent non-forced loads of the same collection
// share one request.
package fetch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability/metrics"
	"github.com/tphakala/farmdash/internal/recommend"
	"github.com/tphakala/farmdash/internal/store"
)

// Sessions resolves the current session and ends it. *auth.Manager implements it.
type Sessions interface {
	Current() (*auth.Session, error)
	Logout(ctx context.Context) error
}

// Fetcher loads collections and performs the mutating actions of the dashboard.
type Fetcher struct {
	store       *store.Store
	services    *backend.Services
	sessions    Sessions
	recommender recommend.Recommender
	metrics     *metrics.FetchMetrics
	logger      *slog.Logger
	now         func() time.Time

	group singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRecommender replaces the rule-based recommender.
func WithRecommender(r recommend.Recommender) Option {
	return func(f *Fetcher) { f.recommender = r }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.FetchMetrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the fetcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithClock overrides time.Now for recommendations and step completion.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher.
func New(st *store.Store, services *backend.Services, sessions Sessions, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:       st,
		services:    services,
		sessions:    sessions,
		recommender: recommend.NewRuleBased(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.ForService("fetch")
	}
	return f
}

// Store returns the store the fetcher writes to.
func (f *Fetcher) Store() *store.Store {
	return f.store
}

// load is the common path of every collection loader.
func load[T any](
	ctx context.Context,
	f *Fetcher,
	c store.Collection,
	key string,
	force bool,
	cached func() T,
	stale func() bool,
	call func(ctx context.Context, sess *auth.Session) (T, error),
	commit func(t store.Ticket, v T) error,
) (T, error) {
	if !force && !stale() {
		f.recordFetch(c, metrics.ResultCacheHit)
		return cached(), nil
	}

	sess, err := f.session(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	run := func(ctx context.Context) (any, error) {
		var ticket store.Ticket
		if c == store.CollectionSteps {
			ticket = f.store.BeginStepsFetch(key)
		} else {
			ticket = f.store.BeginFetch(c)
		}

		start := time.Now()
		v, err := call(ctx, sess)
		if f.metrics != nil {
			f.metrics.RecordFetchDuration(string(c), time.Since(start).Seconds())
		}
		if err != nil {
			f.recordFetch(c, metrics.ResultError)
			if backend.IsUnauthorized(err) {
				return nil, f.forceLogout(ctx, err)
			}
			_ = f.store.Fail(ticket, err)
			f.logger.Warn("fetch failed",
				"collection", c,
				"key", key,
				"error", err)
			return nil, err
		}

		if err := commit(ticket, v); err != nil {
			if !errors.Is(err, store.ErrStaleResponse) {
				return nil, err
			}
			f.recordFetch(c, metrics.ResultStale)
		} else {
			f.recordFetch(c, metrics.ResultNetwork)
		}
		return cached(), nil
	}

	var v any
	if force {
		v, err = run(ctx)
	} else {
		v, err = f.shared(ctx, c, key, run)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// shared runs fn once for every concurrent caller of the same key. The shared
// call is not cancelled when one caller gives up; each caller still stops
// waiting when its own context ends.
func (f *Fetcher) shared(ctx context.Context, c store.Collection, key string, fn func(context.Context) (any, error)) (any, error) {
	flightKey := string(c)
	if key != "" {
		flightKey += "/" + key
	}
	ch := f.group.DoChan(flightKey, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Shared {
			f.recordFetch(c, metrics.ResultShared)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component("fetch").
			Category(errors.CategoryCancellation).
			Context("collection", string(c)).
			Build()
	}
}

// session returns the current session. A stored token that is expired or
// unreadable ends the session.
func (f *Fetcher) session(ctx context.Context) (*auth.Session, error) {
	sess, err := f.sessions.Current()
	if err == nil {
		return sess, nil
	}
	if f.store.Token() != "" {
		return nil, f.forceLogout(ctx, err)
	}
	return nil, err
}

// forceLogout clears the session after the services rejected it. Concurrent
// rejections log out once.
func (f *Fetcher) forceLogout(ctx context.Context, cause error) error {
	_, _, _ = f.group.Do("forced-logout", func() (any, error) {
		if f.metrics != nil {
			f.metrics.RecordForcedLogout()
		}
		f.logger.Warn("session rejected, logging out", "error", cause)
		if err := f.sessions.Logout(context.WithoutCancel(ctx)); err != nil {
			f.logger.Error("forced logout failed", "error", err)
		}
		return nil, nil
	})
	return errors.New(cause).
		Component("fetch").
		Category(errors.CategoryAuthentication).
		Context("forced_logout", true).
		Build()
}

func (f *Fetcher) recordFetch(c store.Collection, result string) {
	if f.metrics != nil {
		f.metrics.RecordFetch(string(c), result)
	}
}

func (f *Fetcher) recordAction(action string, err error) {
	if f.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	f.metrics.RecordAction(action, status)
}
