// Package uow scopes one command to one database transaction. The
// manager opens the transaction, resolves the acting user's access
// context, runs the command body, and on commit drains the events the
// body buffered. Reads inside the body see the body's own uncommitted
// writes.
package uow

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cultivarhq/cultivar/modules/core/services"
	"github.com/cultivarhq/cultivar/pkg/composables"
	"github.com/cultivarhq/cultivar/pkg/eventbus"
	"github.com/cultivarhq/cultivar/pkg/serrors"
)

const defaultAcquireTimeout = 5 * time.Second

// Manager builds units of work over one pool, one access service and
// one event bus.
type Manager struct {
	pool           *pgxpool.Pool
	access         *services.AccessService
	bus            eventbus.EventBus
	acquireTimeout time.Duration
}

type Option func(*Manager)

func WithAcquireTimeout(d time.Duration) Option {
	return func(m *Manager) { m.acquireTimeout = d }
}

func NewManager(pool *pgxpool.Pool, access *services.AccessService, bus eventbus.EventBus, opts ...Option) *Manager {
	m := &Manager{
		pool:           pool,
		access:         access,
		bus:            bus,
		acquireTimeout: defaultAcquireTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UnitOfWork is the per-command handle the body receives. Its publisher
// buffers events until the surrounding transaction commits.
type UnitOfWork struct {
	deferred *deferredBus
}

// Publisher returns an event bus whose Publish calls are held back
// until commit and discarded on rollback.
func (u *UnitOfWork) Publisher() eventbus.EventBus { return u.deferred }

// Run executes fn as one command on behalf of userID: begin a
// transaction (acquisition bounded, timeouts surface Transient),
// resolve the user's access-team context, run fn, commit, then flush
// buffered events. Any error, cancellation included, rolls back and
// drops the buffer.
func (m *Manager) Run(ctx context.Context, userID int64, fn func(ctx context.Context, u *UnitOfWork) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()
	tx, err := m.pool.Begin(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return serrors.Transient("database connection not acquired within %s", m.acquireTimeout)
		}
		return errors.Wrap(err, "failed to begin transaction")
	}

	txCtx := composables.WithPool(ctx, m.pool)
	txCtx = composables.WithTx(txCtx, tx)
	txCtx = composables.WithAgent(txCtx, userID)

	if err := m.access.InitializeUserContext(txCtx, userID); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	u := &UnitOfWork{deferred: &deferredBus{inner: m.bus}}
	if err := fn(txCtx, u); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	u.deferred.flush()
	return nil
}

// deferredBus buffers Publish calls; everything else passes through to
// the wrapped bus.
type deferredBus struct {
	inner    eventbus.EventBus
	buffered [][]interface{}
}

func (d *deferredBus) Publish(args ...interface{}) {
	d.buffered = append(d.buffered, args)
}

func (d *deferredBus) flush() {
	for _, args := range d.buffered {
		d.inner.Publish(args...)
	}
	d.buffered = nil
}

func (d *deferredBus) Subscribe(handler interface{})   { d.inner.Subscribe(handler) }
func (d *deferredBus) Unsubscribe(handler interface{}) { d.inner.Unsubscribe(handler) }
func (d *deferredBus) Clear()                          { d.inner.Clear() }
func (d *deferredBus) SubscribersCount() int           { return d.inner.SubscribersCount() }
func (d *deferredBus) Close()                          { d.inner.Close() }
