package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type PoolConfig struct {
	Size           int
	AcquireTimeout time.Duration
	// MaxIdle drops idle sessions older than this instead of reusing them.
	MaxIdle        time.Duration
	DialsPerSecond float64
}

// Pool bounds how many sessions are open against the server at once and
// reuses healthy ones.
type Pool struct {
	opener  Opener
	cfg     PoolConfig
	slots   chan struct{}
	idle    chan idleSession
	limiter *rate.Limiter
	logger  *logrus.Entry

	mu     sync.Mutex
	closed bool
}

type idleSession struct {
	s     Session
	since time.Time
}

func NewPool(opener Opener, cfg PoolConfig, logger *logrus.Entry) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 5 * time.Minute
	}
	limit := rate.Inf
	if cfg.DialsPerSecond > 0 {
		limit = rate.Limit(cfg.DialsPerSecond)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		opener:  opener,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.Size),
		idle:    make(chan idleSession, cfg.Size),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

func (p *Pool) Open(ctx context.Context) (Session, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	if s := p.takeIdle(); s != nil {
		return &pooledSession{Session: s, pool: p}, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		<-p.slots
		return nil, err
	}
	s, err := p.opener.Open(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return &pooledSession{Session: s, pool: p}, nil
}

func (p *Pool) takeIdle() Session {
	for {
		select {
		case is := <-p.idle:
			if time.Since(is.since) > p.cfg.MaxIdle || isBroken(is.s) {
				_ = is.s.Close()
				continue
			}
			return is.s
		default:
			return nil
		}
	}
}

func (p *Pool) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		t := time.NewTimer(p.cfg.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrPoolTimeout
	}
}

func (p *Pool) release(s Session) {
	defer func() { <-p.slots }()

	if isBroken(s) || p.isClosed() {
		if err := s.Close(); err != nil {
			p.logger.WithError(err).Debug("Closing discarded IMAP session failed")
		}
		return
	}
	select {
	case p.idle <- idleSession{s: s, since: time.Now()}:
	default:
		_ = s.Close()
	}
}

// Close logs out every idle session. Sessions still in use are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case is := <-p.idle:
			_ = is.s.Close()
		default:
			return nil
		}
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type pooledSession struct {
	Session
	pool *Pool
	once sync.Once
}

func (ps *pooledSession) Close() error {
	ps.once.Do(func() { ps.pool.release(ps.Session) })
	return nil
}

func isBroken(s Session) bool {
	b, ok := s.(interface{ Broken() bool })
	return ok && b.Broken()
}
