package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/singleflight"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/metrics"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// healthCheckQuery is executed against a cached pool before it is handed out.
const healthCheckQuery = "SELECT 1"

// Pool is a shared connection pool for one set of credentials.
type Pool struct {
	key     string
	db      *sql.DB
	opts    Options
	waiting atomic.Int32
	closed  atomic.Bool
}

// Key returns host:port:database:user.
func (p *Pool) Key() string { return p.key }

// Options returns the normalized options the pool was built with.
func (p *Pool) Options() Options { return p.opts }

// DB exposes the underlying handle.
func (p *Pool) DB() *sql.DB { return p.db }

// Stats returns the database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats { return p.db.Stats() }

// Acquire waits up to the acquire timeout for a connection. The caller must Close it.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if p.closed.Load() {
		return nil, exception.NewConnectivityError(moduleName, fmt.Sprintf("pool %s is closed", p.key), nil).WithRetryable(false)
	}
	n := p.waiting.Add(1)
	defer p.waiting.Add(-1)
	if p.opts.QueueLimit > 0 && p.db.Stats().InUse >= p.opts.ConnectionLimit && int(n) > p.opts.QueueLimit {
		return nil, exception.NewConnectivityError(moduleName, fmt.Sprintf("pool %s queue limit %d reached", p.key, p.opts.QueueLimit), nil).WithRetryable(false)
	}
	actx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()
	conn, err := p.db.Conn(actx)
	if err != nil {
		if actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, exception.NewConnectivityError(moduleName,
				fmt.Sprintf("timed out after %s acquiring a connection from %s", p.opts.AcquireTimeout, p.key), err).WithRetryable(false)
		}
		return nil, classifyConnect(Credentials{}, err)
	}
	return conn, nil
}

// release returns conn to the pool, logging close errors.
func release(conn *sql.Conn) {
	if err := conn.Close(); err != nil && err != sql.ErrConnDone {
		logger.Warnf("pool: error releasing connection: %v", err)
	}
}

func (p *Pool) healthy(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()
	var one int
	if err := p.db.QueryRowContext(hctx, healthCheckQuery).Scan(&one); err != nil {
		logger.Warnf("pool: health check failed for %s: %v", p.key, err)
		return false
	}
	return true
}

func (p *Pool) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.db.Close()
}

// Registry caches pools by credentials. The composition root owns one instance;
// tests create their own.
type Registry struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	builds   singleflight.Group
	open     OpenFunc
	defaults Options
	retry    RetryPolicy
	recorder metrics.Recorder
	sleep    func(context.Context, time.Duration) error
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithOpenFunc replaces the function used to open *sql.DB handles.
func WithOpenFunc(f OpenFunc) RegistryOption {
	return func(r *Registry) { r.open = f }
}

// WithDefaults sets the options used when GetPool is called with zero Options.
func WithDefaults(o Options) RegistryOption {
	return func(r *Registry) { r.defaults = o.Normalize() }
}

// WithRetryPolicy sets the backoff used by CreateConnection.
func WithRetryPolicy(p RetryPolicy) RegistryOption {
	return func(r *Registry) { r.retry = p }
}

// WithRecorder sets the metrics recorder for pool events.
func WithRecorder(m metrics.Recorder) RegistryOption {
	return func(r *Registry) { r.recorder = m }
}

// WithSleeper replaces the wait between connect attempts.
func WithSleeper(f func(context.Context, time.Duration) error) RegistryOption {
	return func(r *Registry) { r.sleep = f }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		pools:    make(map[string]*Pool),
		open:     OpenMySQL,
		defaults: DefaultOptions(),
		retry:    DefaultRetryPolicy(),
		recorder: metrics.NoopRecorder{},
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetPool returns the cached pool for creds, rebuilding it when its health check fails.
// opts applies only when a new pool is built; a zero value selects the registry defaults.
func (r *Registry) GetPool(ctx context.Context, creds Credentials, opts Options) (*Pool, error) {
	key := creds.Key()

	r.mu.Lock()
	existing, ok := r.pools[key]
	r.mu.Unlock()

	if ok {
		if existing.healthy(ctx) {
			r.recorder.RecordPoolEvent(ctx, "reused")
			return existing, nil
		}
		r.discard(key, existing)
		r.recorder.RecordPoolEvent(ctx, "rebuilt")
	}

	// Builds for one key are shared; builds for different keys run in parallel.
	v, err, _ := r.builds.Do(key, func() (interface{}, error) {
		r.mu.Lock()
		p, ok := r.pools[key]
		r.mu.Unlock()
		if ok && p != existing {
			return p, nil
		}
		p, err := r.build(ctx, creds, opts)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.pools[key] = p
		r.mu.Unlock()
		r.recorder.RecordPoolEvent(ctx, "created")
		logger.Infof("pool: created pool for %s (limit %d)", key, p.opts.ConnectionLimit)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pool), nil
}

func (r *Registry) resolve(opts Options) Options {
	if opts == (Options{}) {
		return r.defaults
	}
	return opts.Normalize()
}

func (r *Registry) build(ctx context.Context, creds Credentials, opts Options) (*Pool, error) {
	opts = r.resolve(opts)
	db, err := r.open(creds, opts)
	if err != nil {
		return nil, classifyConnect(creds, err)
	}
	db.SetMaxOpenConns(opts.ConnectionLimit)
	db.SetMaxIdleConns(opts.ConnectionLimit)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Debugf("pool: close after failed ping for %s: %v", creds.Key(), cerr)
		}
		return nil, classifyConnect(creds, err)
	}
	return &Pool{key: creds.Key(), db: db, opts: opts}, nil
}

// discard removes p from the cache if it is still the cached pool and closes it, ignoring close errors.
func (r *Registry) discard(key string, p *Pool) {
	r.mu.Lock()
	if r.pools[key] == p {
		delete(r.pools, key)
	}
	r.mu.Unlock()
	if err := p.close(); err != nil {
		logger.Warnf("pool: error closing unhealthy pool %s: %v", key, err)
	}
}

// Len returns the number of cached pools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// ClosePool closes and forgets the pool for creds. It is a no-op if none is cached.
func (r *Registry) ClosePool(creds Credentials) {
	key := creds.Key()
	r.mu.Lock()
	p, ok := r.pools[key]
	delete(r.pools, key)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := p.close(); err != nil {
		logger.Warnf("pool: error closing pool %s: %v", key, err)
	}
	r.recorder.RecordPoolEvent(context.Background(), "closed")
}

// CloseAll closes every cached pool. Close errors are logged and do not stop the sweep.
// It returns the number of pools that were closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var result *multierror.Error
	for key, p := range pools {
		if err := p.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
		}
		r.recorder.RecordPoolEvent(context.Background(), "closed")
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Warnf("pool: errors while closing pools: %v", err)
	}
	if len(pools) > 0 {
		logger.Infof("pool: closed %d pool(s)", len(pools))
	}
	return len(pools)
}
