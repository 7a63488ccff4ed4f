package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/repository"
)

type AnalyticsService struct {
	repository *repository.RequestLogRepository
}

func NewAnalyticsService(repo *repository.RequestLogRepository) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

type AnalyticsSummary struct {
	From            time.Time               `json:"from"`
	To              time.Time               `json:"to"`
	TotalRequests   int64                   `json:"total_requests"`
	AvgResponseTime float64                 `json:"avg_response_time_ms"`
	P50ResponseTime int                     `json:"p50_response_time_ms"`
	P95ResponseTime int                     `json:"p95_response_time_ms"`
	P99ResponseTime int                     `json:"p99_response_time_ms"`
	ErrorRate       float64                 `json:"error_rate"`
	SuccessRate     float64                 `json:"success_rate"`
	ClientErrorRate float64                 `json:"client_error_rate"`
	ServerErrorRate float64                 `json:"server_error_rate"`
	ErrorCodes      []repository.GroupCount `json:"error_codes"`
	Tiers           []repository.GroupCount `json:"tiers"`
	TopEndpoints    []repository.GroupCount `json:"top_endpoints"`
}

type TimeSeriesData struct {
	Hour            time.Time `json:"hour"`
	Count           int64     `json:"count"`
	AvgResponseTime float64   `json:"avg_response_time"`
}

func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{From: from, To: to}

	totalRequests, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		return summary, nil
	}

	avgResponseTime, err := s.repository.GetAverageResponseTime(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.AvgResponseTime = avgResponseTime

	for _, p := range []struct {
		dst        *int
		percentile float64
	}{
		{&summary.P50ResponseTime, 0.50},
		{&summary.P95ResponseTime, 0.95},
		{&summary.P99ResponseTime, 0.99},
	} {
		v, err := s.repository.GetPercentile(ctx, from, to, totalRequests, p.percentile)
		if err != nil {
			return nil, err
		}
		*p.dst = v
	}

	clientErrors, err := s.repository.CountByStatusCodeRange(ctx, 400, 499, from, to)
	if err != nil {
		return nil, err
	}

	serverErrors, err := s.repository.CountByStatusCodeRange(ctx, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	total := float64(totalRequests)
	summary.ErrorRate = float64(clientErrors+serverErrors) / total * 100
	summary.SuccessRate = 100 - summary.ErrorRate
	summary.ClientErrorRate = float64(clientErrors) / total * 100
	summary.ServerErrorRate = float64(serverErrors) / total * 100

	if summary.ErrorCodes, err = s.repository.CountBy(ctx, "error_code", from, to, 20); err != nil {
		return nil, err
	}
	if summary.Tiers, err = s.repository.CountBy(ctx, "tier", from, to, len(models.Tiers())); err != nil {
		return nil, err
	}
	if summary.TopEndpoints, err = s.repository.CountBy(ctx, "path", from, to, 10); err != nil {
		return nil, err
	}

	return summary, nil
}

// GetTimeSeriesData buckets requests per hour (UTC).
func (s *AnalyticsService) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]TimeSeriesData, error) {
	samples, err := s.repository.Samples(ctx, from, to)
	if err != nil {
		return nil, err
	}

	series := make([]TimeSeriesData, 0)
	var totalMs int64

	for _, sample := range samples {
		hour := sample.Timestamp.UTC().Truncate(time.Hour)

		if n := len(series); n == 0 || !series[n-1].Hour.Equal(hour) {
			if n > 0 {
				series[n-1].AvgResponseTime = float64(totalMs) / float64(series[n-1].Count)
			}
			series = append(series, TimeSeriesData{Hour: hour})
			totalMs = 0
		}

		last := &series[len(series)-1]
		last.Count++
		totalMs += int64(sample.ResponseTimeMs)
	}

	if n := len(series); n > 0 {
		series[n-1].AvgResponseTime = float64(totalMs) / float64(series[n-1].Count)
	}

	return series, nil
}

func (s *AnalyticsService) GetLogs(ctx context.Context, from, to time.Time, statusCode *int, limit, offset int) ([]models.RequestLog, error) {
	return s.repository.FindByTimeRange(ctx, from, to, statusCode, limit, offset)
}

func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repository.DeleteOldLogs(ctx, time.Now().Add(-retention))
}
