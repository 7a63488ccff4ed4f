package healthcheck

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dependency is one resource the checker watches. Critical dependencies make
// the whole service unhealthy when they fail; the others only degrade it.
type Dependency struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Checker runs the dependency checks periodically and keeps the latest
// status of each.
type Checker struct {
	mu          sync.RWMutex
	deps        []Dependency
	status      map[string]*Status
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	logger      *zap.Logger
	cancel      context.CancelFunc
	running     bool
}

type Config struct {
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per check (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 1)
}

func NewChecker(cfg Config, logger *zap.Logger, deps ...Dependency) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}

	checker := &Checker{
		deps:        deps,
		status:      make(map[string]*Status, len(deps)),
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		logger:      logger.Named("health"),
	}

	for _, p := range deps {
		checker.status[p.Name] = &Status{
			Name:      p.Name,
			Critical:  p.Critical,
			IsHealthy: true,
		}
	}

	return checker
}

// Start runs an initial check synchronously, then checks every interval
// until Stop or ctx cancellation.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.logger.Info("starting health checks", zap.Int("dependencies", len(c.deps)), zap.Duration("interval", c.interval))

	c.CheckNow(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.cancel()
		c.running = false
		c.logger.Info("health checker stopped")
	}
}

// CheckNow runs every dependency check concurrently and waits for all of them.
func (c *Checker) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range c.deps {
		wg.Add(1)
		go func(p Dependency) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			if err := p.Check(checkCtx); err != nil {
				c.recordFailure(p.Name, err)
				return
			}
			c.recordSuccess(p.Name)
		}(p)
	}

	wg.Wait()
}

func (c *Checker) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.status[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.logger.Info("dependency is healthy again", zap.String("dependency", name))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	status := c.status[name]
	status.LastCheck = now
	status.LastFailure = now
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.logger.Warn("dependency is unhealthy",
			zap.String("dependency", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err),
		)
		status.IsHealthy = false
	}
}

// GetStatus returns a copy of one dependency's status, or nil.
func (c *Checker) GetStatus(name string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.status[name]; exists {
		statusCopy := *status
		return &statusCopy
	}

	return nil
}

func (c *Checker) GetAllStatus() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Status, len(c.status))
	for name, status := range c.status {
		out[name] = *status
	}

	return out
}

func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := Healthy
	for _, status := range c.status {
		if status.IsHealthy {
			continue
		}
		if status.Critical {
			return Unhealthy
		}
		overall = Degraded
	}

	return overall
}
