package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchthat/openclaw-connector/agent/internal/config"
	"github.com/launchthat/openclaw-connector/agent/internal/delivery"
	"github.com/launchthat/openclaw-connector/agent/internal/event"
	"github.com/launchthat/openclaw-connector/agent/internal/flush"
	"github.com/launchthat/openclaw-connector/agent/internal/heartbeat"
	"github.com/launchthat/openclaw-connector/agent/internal/metrics"
	"github.com/launchthat/openclaw-connector/agent/internal/queue"
	"github.com/launchthat/openclaw-connector/agent/internal/security"
	"github.com/launchthat/openclaw-connector/agent/internal/signer"
	"github.com/launchthat/openclaw-connector/pkg/types"
)

// State is the connector lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	// ErrAlreadyStarted is returned by Start when the connector is not stopped.
	ErrAlreadyStarted = errors.New("connector: already started")

	// ErrNotRunning is returned by operations on a connector that has been
	// stopped and closed.
	ErrNotRunning = errors.New("connector: closed")
)

// Source labels for tracked-event metrics.
const (
	SourceLibrary = "library"
	SourceAPI     = "api"
	SourceInbox   = "inbox"
	SourceCLI     = "cli"
)

// Option customizes a Connector.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	policy    *delivery.Policy
	store     queue.Store
	clock     func() time.Time
}

// WithTransport sets the HTTP round tripper used for the ingestion API.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRetryPolicy overrides the default 5 × 500ms retry policy.
func WithRetryPolicy(p delivery.Policy) Option {
	return func(o *options) { o.policy = &p }
}

// WithStore overrides the store selected by the queue configuration.
func WithStore(s queue.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock sets the signer clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Status is a point-in-time view of the connector.
type Status struct {
	State         State      `json:"state"`
	InstanceID    string     `json:"instance_id"`
	QueueDepth    int        `json:"queue_depth"`
	Flushing      bool       `json:"flushing"`
	Persist       bool       `json:"persist"`
	QueueBackend  string     `json:"queue_backend,omitempty"`
	QueuePath     string     `json:"queue_path,omitempty"`
	Signing       bool       `json:"signing"`
	LastDelivery  *time.Time `json:"last_delivery,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	PeerCert *security.CertStatus `json:"peer_cert,omitempty"`
}

// Connector delivers tracked events to the ingestion API.
type Connector struct {
	cfg    config.Config
	signer *signer.Signer
	client *delivery.Client
	queue  *queue.Queue
	engine *flush.Engine
	beat   *heartbeat.Loop

	restoreOnce sync.Once
	restored    atomic.Bool

	mu       sync.Mutex
	state    State
	handle   *heartbeat.Handle
	closed   bool
	peerCert *security.CertStatus

	certCancel context.CancelFunc
	certDone   chan struct{}
}

// New validates cfg and builds a stopped Connector. Validation failures are
// returned as *config.ConfigurationError.
func New(cfg *config.Config, opts ...Option) (*Connector, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy := delivery.DefaultPolicy()
	if o.policy != nil {
		policy = *o.policy
	}

	store := o.store
	if store == nil {
		s, err := openLockedStore(cfg.Queue)
		if err != nil {
			return nil, err
		}
		store = s
	}

	sg := signer.New(cfg.SigningSecret)
	if o.clock != nil {
		sg = sg.WithClock(o.clock)
	}
	client := delivery.NewClient(cfg.BaseURL, cfg.InstanceID, cfg.IngestToken, sg, cfg.RequestTimeout)
	if o.transport != nil {
		client.SetTransport(o.transport)
	}

	q := queue.New(store)
	return &Connector{
		cfg:    *cfg,
		signer: sg,
		client: client,
		queue:  q,
		engine: flush.New(q, client, policy),
		beat:   heartbeat.New(client, policy, cfg.HeartbeatInterval),
		state:  StateStopped,
	}, nil
}

// openLockedStore opens the configured store under an exclusive lock on the
// queue path, held until the store is closed.
func openLockedStore(qc config.QueueConfig) (queue.Store, error) {
	if !qc.Persist {
		return queue.NopStore{}, nil
	}
	lock, err := queue.Lock(queue.NopStore{}, qc.Path)
	if err != nil {
		return nil, fmt.Errorf("connector: %w", err)
	}
	s, err := OpenStore(qc)
	if err != nil {
		lock.Close()
		return nil, err
	}
	lock.Store = s
	return lock, nil
}

// OpenStore returns the queue store selected by qc without locking it. Used
// for read-only inspection.
func OpenStore(qc config.QueueConfig) (queue.Store, error) {
	if !qc.Persist {
		return queue.NopStore{}, nil
	}
	switch qc.Backend {
	case config.BackendSQLite:
		s, err := queue.NewSQLiteStore(qc.Path)
		if err != nil {
			return nil, fmt.Errorf("connector: open queue: %w", err)
		}
		return s, nil
	default:
		return queue.NewFileStore(qc.Path), nil
	}
}

// Start restores the persisted queue, starts the heartbeat and attempts an
// initial flush. A failed initial flush is logged; the events stay queued.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotRunning
	}
	if c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateStarting
	c.mu.Unlock()

	slog.Info("connector: starting",
		"instance_id", c.cfg.InstanceID,
		"base_url", c.cfg.BaseURL,
		"persist", c.cfg.Queue.Persist,
		"signing", c.signer.Enabled(),
	)

	c.restore(ctx)

	// The heartbeat and the certificate check outlive ctx; Stop owns their
	// cancellation.
	handle := c.beat.Start(context.WithoutCancel(ctx))
	certCtx, certCancel := context.WithCancel(context.WithoutCancel(ctx))
	certDone := make(chan struct{})
	go func() {
		defer close(certDone)
		c.checkPeerCert(certCtx)
	}()

	c.mu.Lock()
	c.handle = handle
	c.certCancel = certCancel
	c.certDone = certDone
	c.state = StateRunning
	c.mu.Unlock()

	slog.Info("connector: running",
		"queue_depth", c.queue.Len(),
		"heartbeat_interval", c.cfg.HeartbeatInterval,
	)

	if err := c.engine.Flush(ctx); err != nil {
		slog.Warn("connector: initial flush failed, events stay queued", "err", err)
	}
	return nil
}

// Stop halts the heartbeat, persists the queue and closes the store. It does
// not wait for an in-progress flush: the store stays open until that flush
// exits, so an acknowledged batch is still removed, and is closed from a
// goroutine afterwards. Stopping a connector that was never started only
// closes the store.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	handle := c.handle
	c.handle = nil
	certCancel, certDone := c.certCancel, c.certDone
	c.certCancel, c.certDone = nil, nil
	c.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	if certCancel != nil {
		certCancel()
		<-certDone
	}

	var err error
	idle := c.engine.Shutdown()
	select {
	case <-idle:
		err = c.closeQueue(ctx)
	default:
		slog.Info("connector: flush in progress, closing the queue when it finishes")
		go func() {
			<-idle
			if err := c.closeQueue(context.Background()); err != nil {
				slog.Error("connector: deferred queue close failed", "err", err)
			}
		}()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.closed = true
	c.mu.Unlock()

	slog.Info("connector: stopped", "queue_depth", c.queue.Len())
	return err
}

// closeQueue writes the final snapshot and closes the store, releasing the
// queue lock.
func (c *Connector) closeQueue(ctx context.Context) error {
	var errs []error
	if c.restored.Load() {
		if err := c.queue.Persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("connector: close store: %w", err))
	}
	return errors.Join(errs...)
}

// TrackEvent validates raw as an event, enqueues it and blocks on a flush
// attempt. Validation and persistence errors are returned; delivery
// failures are logged and leave the event queued.
func (c *Connector) TrackEvent(ctx context.Context, raw []byte) (types.Event, error) {
	return c.trackRaw(ctx, SourceLibrary, raw)
}

// TrackEventFrom is TrackEvent with an explicit source label.
func (c *Connector) TrackEventFrom(ctx context.Context, source string, raw []byte) (types.Event, error) {
	return c.trackRaw(ctx, source, raw)
}

// Track is TrackEvent for an already-typed event.
func (c *Connector) Track(ctx context.Context, ev types.Event) (types.Event, error) {
	norm, err := event.Normalize(ev)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(SourceLibrary).Inc()
		return types.Event{}, err
	}
	return norm, c.track(ctx, SourceLibrary, norm, true)
}

// Enqueue validates raw and persists it without flushing. Used by callers
// that batch several records before one flush.
func (c *Connector) Enqueue(ctx context.Context, source string, raw []byte) (types.Event, error) {
	ev, err := c.parse(source, raw)
	if err != nil {
		return types.Event{}, err
	}
	return ev, c.track(ctx, source, ev, false)
}

func (c *Connector) trackRaw(ctx context.Context, source string, raw []byte) (types.Event, error) {
	ev, err := c.parse(source, raw)
	if err != nil {
		return types.Event{}, err
	}
	return ev, c.track(ctx, source, ev, true)
}

func (c *Connector) parse(source string, raw []byte) (types.Event, error) {
	ev, err := event.Parse(raw)
	if err != nil {
		metrics.ValidationFailures.WithLabelValues(source).Inc()
		return types.Event{}, err
	}
	return ev, nil
}

func (c *Connector) track(ctx context.Context, source string, ev types.Event, flushAfter bool) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	c.restore(ctx)

	if err := c.queue.Enqueue(ctx, ev); err != nil {
		return err
	}
	metrics.EventsTracked.WithLabelValues(source).Inc()
	slog.Debug("connector: event queued",
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"source", source,
		"queue_depth", c.queue.Len())

	if flushAfter {
		if err := c.engine.Flush(ctx); err != nil {
			slog.Warn("connector: flush failed, event stays queued",
				"event_id", ev.EventID, "err", err)
		}
	}
	return nil
}

// Flush attempts delivery of everything queued and returns the delivery
// error, if any. It returns immediately if a flush is already running.
func (c *Connector) Flush(ctx context.Context) error {
	if c.isClosed() {
		return ErrNotRunning
	}
	c.restore(ctx)
	return c.engine.Flush(ctx)
}

// Status returns a snapshot of the connector state.
func (c *Connector) Status() Status {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	st := Status{
		State:      state,
		InstanceID: c.cfg.InstanceID,
		QueueDepth: c.queue.Len(),
		Flushing:   c.engine.InProgress(),
		Persist:    c.cfg.Queue.Persist,
		Signing:    c.signer.Enabled(),
	}
	if c.cfg.Queue.Persist {
		st.QueueBackend = c.cfg.Queue.Backend
		st.QueuePath = c.cfg.Queue.Path
	}
	if t := c.engine.LastSuccess(); !t.IsZero() {
		st.LastDelivery = &t
	}
	if t := c.beat.LastSuccess(); !t.IsZero() {
		st.LastHeartbeat = &t
	}
	c.mu.Lock()
	st.PeerCert = c.peerCert
	c.mu.Unlock()
	return st
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns a copy of the undelivered events in queue order.
func (c *Connector) Pending(ctx context.Context) []types.Event {
	c.restore(ctx)
	return c.queue.Snapshot()
}

// restore loads the persisted snapshot before the first queue mutation so
// a write never clobbers events from a previous run.
func (c *Connector) restore(ctx context.Context) {
	c.restoreOnce.Do(func() {
		c.queue.Restore(ctx)
		c.restored.Store(true)
	})
}

// checkPeerCert inspects the ingestion API certificate once per start, off
// the delivery path. An unreachable peer is not an error here; delivery
// retries report it.
func (c *Connector) checkPeerCert(ctx context.Context) {
	cs := security.Check(ctx, c.cfg.BaseURL)
	if cs == nil || ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	c.peerCert = cs
	c.mu.Unlock()

	switch cs.Status {
	case security.StatusExpired, security.StatusExpiring:
		metrics.PeerCertDaysLeft.Set(float64(cs.DaysLeft))
		slog.Warn("connector: ingestion API certificate "+cs.Status,
			"base_url", cs.Endpoint,
			"days_left", cs.DaysLeft,
			"not_after", cs.NotAfter)
	case security.StatusValid:
		metrics.PeerCertDaysLeft.Set(float64(cs.DaysLeft))
	}
}

func (c *Connector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
