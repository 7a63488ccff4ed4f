package handler

import (
	"context"
	"errors"

	"github.com/aman-churiwal/indicator-gateway/internal/auth"
	"github.com/aman-churiwal/indicator-gateway/internal/dataset"
	"github.com/aman-churiwal/indicator-gateway/internal/envelope"
	"github.com/aman-churiwal/indicator-gateway/internal/gateway"
	"github.com/gin-gonic/gin"
)

// DataHandler serves the indicator and scenario documents. Its methods are
// gateway.HandlerFuncs and only run behind the pipeline.
type DataHandler struct {
	reader *dataset.Reader
}

func NewDataHandler(reader *dataset.Reader) *DataHandler {
	return &DataHandler{reader: reader}
}

// Handles GET /api/v1/indicators
func (h *DataHandler) ListIndicators(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error) {
	names, err := h.reader.ListIndicators(ctx)
	if err != nil {
		return nil, fetchError(err, "Failed to list indicators")
	}

	return envelope.WithMeta(names, map[string]any{"count": len(names)}), nil
}

// Handles GET /api/v1/indicators/:name
func (h *DataHandler) GetIndicator(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error) {
	name := c.Param("name")

	doc, err := h.reader.Indicator(ctx, name)
	if errors.Is(err, dataset.ErrNotFound) {
		return nil, envelope.Newf(envelope.KindDataNotFound, "Indicator %q not found", name).
			With("indicator", name)
	}
	if err != nil {
		return nil, fetchError(err, "Failed to read indicator")
	}

	return envelope.WithMeta(doc, map[string]any{"indicator": name}), nil
}

// Handles GET /api/v1/scenarios
func (h *DataHandler) ListScenarios(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error) {
	ids, err := h.reader.ListScenarios(ctx)
	if err != nil {
		return nil, fetchError(err, "Failed to list scenarios")
	}

	return envelope.WithMeta(ids, map[string]any{"count": len(ids)}), nil
}

// Handles GET /api/v1/scenarios/:id
func (h *DataHandler) GetScenario(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error) {
	id := c.Param("id")

	doc, err := h.reader.Scenario(ctx, id)
	if errors.Is(err, dataset.ErrNotFound) {
		return nil, envelope.Newf(envelope.KindScenarioNotFound, "Scenario %q not found", id).
			With("scenario", id)
	}
	if err != nil {
		return nil, fetchError(err, "Failed to read scenario")
	}

	return envelope.WithMeta(doc, map[string]any{"scenario": id}), nil
}

// Handles GET /api/v1/usage
func (h *DataHandler) Usage(ctx context.Context, c *gin.Context, rc auth.RequestContext) (any, error) {
	usage := gin.H{
		"tier":          rc.Tier,
		"authenticated": rc.HasKey(),
	}
	if rc.AccountName != "" {
		usage["account"] = rc.AccountName
	}

	if quota, ok := gateway.QuotaFrom(c); ok {
		usage["limit"] = quota.Limit
		usage["remaining"] = quota.Remaining
		usage["resetAt"] = quota.ResetAt.UTC().Format(envelope.TimeFormat)
	}

	return usage, nil
}

// Deadline and cancellation errors keep their own kind.
func fetchError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return envelope.Wrap(envelope.KindFetch, err, message)
}
