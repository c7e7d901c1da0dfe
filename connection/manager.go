package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/ptgott/hbase-template/kerberos"
	"github.com/ptgott/hbase-template/storage"
	"github.com/ptgott/hbase-template/telemetry"
	"github.com/ptgott/hbase-template/userconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrUnavailable means no connection to the store could be obtained.
var ErrUnavailable = errors.New("store unavailable")

// Connection is one live connection to the store.
type Connection struct {
	ID        uuid.UUID
	Store     storage.Store
	Snapshot  *userconfig.Snapshot
	Identity  *kerberos.Identity
	CreatedAt time.Time
}

// Close closes the store and discards the connection's credentials.
func (c *Connection) Close() error {
	err := c.Store.Close()
	c.Identity.Destroy()
	return err
}

// BuildFunc produces the configuration for a new connection. It is called
// once per connection, so it is where fresh credentials come from.
type BuildFunc func(ctx context.Context) (*userconfig.Snapshot, error)

// DialFunc opens a store for a snapshot. It must not return until the store
// is usable.
type DialFunc func(ctx context.Context, s *userconfig.Snapshot) (storage.Store, error)

// NewDialer returns the DialFunc that picks a storage.Store implementation
// from the snapshot's backend. local configures the BadgerDB backend.
func NewDialer(local storage.KVConfig, logger zerolog.Logger) DialFunc {
	return func(ctx context.Context, s *userconfig.Snapshot) (storage.Store, error) {
		switch s.Backend {
		case userconfig.BackendNoop:
			return &storage.NoOpDB{}, nil
		case userconfig.BackendLocal:
			db, err := storage.NewBadgerDB(&local, logger)
			if err != nil {
				return nil, err
			}
			return db, nil
		default:
			hc, err := s.HBaseConfig()
			if err != nil {
				return nil, err
			}
			hs, err := storage.NewHBaseStore(ctx, hc, logger)
			if err != nil {
				return nil, err
			}
			return hs, nil
		}
	}
}

// Options configures a Manager. Build and Dial are required.
type Options struct {
	Build BuildFunc
	Dial  DialFunc
	// Decides whether Start renews connections and how often. Defaults to
	// userconfig.NoAuth.
	Auth userconfig.Auth
	// Defaults to a new, empty queue
	Queue *RetirementQueue
	// Defaults to telemetry.Noop()
	Metrics telemetry.Collector
	// Defaults to the global logger
	Logger *zerolog.Logger
}

// Manager hands out the current connection and replaces it on renewal. At
// most one connection is current at any time.
type Manager struct {
	build   BuildFunc
	dial    DialFunc
	auth    userconfig.Auth
	queue   *RetirementQueue
	metrics telemetry.Collector
	log     zerolog.Logger

	current atomic.Pointer[Connection]
	// Serializes building connections and closing the manager
	mu     sync.Mutex
	closed bool
}

// NewManager returns a Manager with no connection. The first call to Get
// builds one.
func NewManager(o Options) (*Manager, error) {
	if o.Build == nil {
		return nil, errors.New("a connection manager needs a BuildFunc")
	}
	if o.Dial == nil {
		return nil, errors.New("a connection manager needs a DialFunc")
	}
	m := &Manager{
		build:   o.Build,
		dial:    o.Dial,
		auth:    o.Auth,
		queue:   o.Queue,
		metrics: o.Metrics,
		log:     log.Logger,
	}
	if m.auth == nil {
		m.auth = userconfig.NoAuth{}
	}
	if m.queue == nil {
		m.queue = NewRetirementQueue()
	}
	if m.metrics == nil {
		m.metrics = telemetry.Noop()
	}
	if o.Logger != nil {
		m.log = *o.Logger
	}
	return m, nil
}

// Queue returns the manager's retirement queue.
func (m *Manager) Queue() *RetirementQueue {
	return m.queue
}

// Current returns the current connection without building one. It returns
// nil before the first successful Get.
func (m *Manager) Current() *Connection {
	return m.current.Load()
}

// Get returns the current connection, building it first if there is none.
// Concurrent callers during a cold start wait for a single build. If the
// build fails, the manager stays without a connection and the error wraps
// ErrUnavailable.
func (m *Manager) Get(ctx context.Context) (*Connection, error) {
	if c := m.current.Load(); c != nil {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%w: the connection manager is closed", ErrUnavailable)
	}
	if c := m.current.Load(); c != nil {
		return c, nil
	}

	c, err := m.connect(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("can't connect to the store")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	m.current.Store(c)
	return c, nil
}

// connect builds a snapshot and dials it. Callers must hold m.mu.
func (m *Manager) connect(ctx context.Context) (*Connection, error) {
	snap, err := m.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't build the store configuration: %w", err)
	}

	store, err := m.dial(ctx, snap)
	if err != nil {
		snap.Identity.Destroy()
		return nil, fmt.Errorf("can't open the store: %w", err)
	}

	c := &Connection{
		ID:        uuid.New(),
		Store:     store,
		Snapshot:  snap,
		Identity:  snap.Identity,
		CreatedAt: time.Now(),
	}
	m.metrics.IncConnectionsBuilt()
	m.log.Info().
		Str("connection", c.ID.String()).
		Str("backend", string(snap.Backend)).
		Msg("opened a store connection")
	return c, nil
}

// Renew builds a new connection and makes it current. The previous
// connection goes to the back of the retirement queue rather than being
// closed. If anything fails, the current connection stays current and the
// error is returned.
func (m *Manager) Renew(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: the connection manager is closed", ErrUnavailable)
	}

	c, err := m.connect(ctx)
	if err != nil {
		m.metrics.IncRenewal(telemetry.OutcomeFailure)
		m.log.Error().Err(err).Msg("can't renew the store connection, keeping the current one")
		return fmt.Errorf("can't renew the store connection: %w", err)
	}

	prev := m.current.Swap(c)
	if prev != nil {
		m.queue.Push(prev)
		m.metrics.SetRetired(m.queue.Len())
	}
	m.metrics.IncRenewal(telemetry.OutcomeSuccess)

	e := m.log.Info().Str("connection", c.ID.String())
	if prev != nil {
		e = e.Str("retired", prev.ID.String())
	}
	e.Msg("renewed the store connection")
	return nil
}

// DrainRetired closes the oldest retired connection, but only when more than
// one is queued. Called once per renewal, this keeps every retired
// connection open for at least one full renewal period after it stopped
// being current.
func (m *Manager) DrainRetired() error {
	c := m.queue.PopIfLongerThan(1)
	if c == nil {
		return nil
	}
	m.metrics.SetRetired(m.queue.Len())
	return m.closeConnection(c)
}

func (m *Manager) closeConnection(c *Connection) error {
	err := c.Close()
	m.metrics.IncConnectionsClosed()
	if err != nil {
		m.log.Error().Err(err).Str("connection", c.ID.String()).Msg("error closing a store connection")
		return fmt.Errorf("can't close connection %v: %w", c.ID, err)
	}
	m.log.Info().Str("connection", c.ID.String()).Msg("closed a store connection")
	return nil
}

// Close closes the current connection and every retired one. Get and Renew
// fail once the manager is closed. Closing more than once is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var result *multierror.Error
	if c := m.current.Swap(nil); c != nil {
		if err := m.closeConnection(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, c := range m.queue.Drain() {
		if err := m.closeConnection(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	m.metrics.SetRetired(0)
	return result.ErrorOrNil()
}
