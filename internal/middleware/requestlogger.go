package middleware

import (
	"context"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/gateway"
	"github.com/aman-churiwal/indicator-gateway/internal/metrics"
	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultBatchSize = 100

// RequestLogger records gateway requests to the database asynchronously.
// The middleware never blocks: when the buffer is full the entry is dropped.
type RequestLogger struct {
	repo          *repository.RequestLogRepository
	entries       chan models.RequestLog
	flushInterval time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	dropWarn      rate.Sometimes
	done          chan struct{}
}

func NewRequestLogger(repo *repository.RequestLogRepository, bufferSize int, flushInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &RequestLogger{
		repo:          repo,
		entries:       make(chan models.RequestLog, bufferSize),
		flushInterval: flushInterval,
		logger:        logger.Named("requestlog"),
		metrics:       m,
		dropWarn:      rate.Sometimes{First: 1, Interval: 30 * time.Second},
		done:          make(chan struct{}),
	}
}

// Run batches entries into the database until ctx is cancelled, then
// flushes whatever is buffered.
func (l *RequestLogger) Run(ctx context.Context) {
	defer close(l.done)

	batch := make([]models.RequestLog, 0, defaultBatchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)
			if len(batch) >= defaultBatchSize {
				batch = l.insert(batch)
			}
		case <-ticker.C:
			batch = l.insert(batch)
		case <-ctx.Done():
			for {
				select {
				case entry := <-l.entries:
					batch = append(batch, entry)
				default:
					l.insert(batch)
					return
				}
			}
		}
	}
}

// Done is closed once Run has flushed and returned.
func (l *RequestLogger) Done() <-chan struct{} {
	return l.done
}

func (l *RequestLogger) insert(batch []models.RequestLog) []models.RequestLog {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := l.repo.CreateBatch(ctx, batch); err != nil {
		l.logger.Error("failed to insert request logs", zap.Int("count", len(batch)), zap.Error(err))
	}

	return batch[:0]
}

func (l *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.RequestLog{
			Timestamp:      start.UTC(),
			RequestID:      c.GetString(RequestIDKey),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			Tier:           models.TierAnonymous,
		}

		if rc, ok := gateway.RequestContextFrom(c); ok {
			entry.Tier = rc.Tier
			entry.AccountName = rc.AccountName
		}
		if code, ok := gateway.ErrorCodeFrom(c); ok {
			entry.ErrorCode = string(code)
		}

		select {
		case l.entries <- entry:
		default:
			if l.metrics != nil {
				l.metrics.RequestLogDropped.Inc()
			}
			l.dropWarn.Do(func() {
				l.logger.Warn("request log buffer full, dropping entries")
			})
		}
	}
}
