package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okDependency(name string, critical bool) Dependency {
	return Dependency{Name: name, Critical: critical, Check: func(context.Context) error { return nil }}
}

func failingDependency(name string, critical bool) Dependency {
	return Dependency{Name: name, Critical: critical, Check: func(context.Context) error { return errors.New("down") }}
}

func TestOverallHealth(t *testing.T) {
	tests := []struct {
		name string
		deps []Dependency
		want HealthStatus
	}{
		{"all healthy", []Dependency{okDependency("data", true), okDependency("redis", false)}, Healthy},
		{"optional down", []Dependency{okDependency("data", true), failingDependency("redis", false)}, Degraded},
		{"critical down", []Dependency{failingDependency("data", true), okDependency("redis", false)}, Unhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(Config{}, zap.NewNop(), tt.deps...)
			c.CheckNow(context.Background())
			assert.Equal(t, tt.want, c.OverallHealth())
		})
	}
}

func TestFailureThresholdAndRecovery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	dep := Dependency{Name: "redis", Check: func(context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}}

	c := NewChecker(Config{MaxFailures: 2}, zap.NewNop(), dep)
	ctx := context.Background()

	c.CheckNow(ctx)
	assert.True(t, c.GetStatus("redis").IsHealthy)

	c.CheckNow(ctx)
	status := c.GetStatus("redis")
	require.NotNil(t, status)
	assert.False(t, status.IsHealthy)
	assert.Equal(t, "connection refused", status.LastError)

	failing.Store(false)
	c.CheckNow(ctx)
	assert.True(t, c.GetStatus("redis").IsHealthy)
	assert.Equal(t, 0, c.GetStatus("redis").FailureCount)
}

func TestCheckTimeout(t *testing.T) {
	slow := Dependency{Name: "db", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	c := NewChecker(Config{Timeout: 10 * time.Millisecond}, zap.NewNop(), slow)
	c.CheckNow(context.Background())

	assert.False(t, c.GetStatus("db").IsHealthy)
	assert.Nil(t, c.GetStatus("unknown"))
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	dep := Dependency{Name: "data", Check: func(context.Context) error {
		calls.Add(1)
		return nil
	}}

	c := NewChecker(Config{Interval: 5 * time.Millisecond}, zap.NewNop(), dep)
	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.GetAllStatus(), 1)
}
