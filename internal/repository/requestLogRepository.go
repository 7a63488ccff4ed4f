package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/aman-churiwal/indicator-gateway/internal/models"
	"github.com/aman-churiwal/indicator-gateway/internal/storage"
)

// Queries here stay within what both postgres and sqlite understand;
// anything dialect specific (percentiles, hourly buckets) is computed in Go.
type RequestLogRepository struct {
	db *storage.Database
}

func NewRequestLogRepository(db *storage.Database) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// FindByTimeRange returns logs newest first. statusCode filters when non-nil.
func (r *RequestLogRepository) FindByTimeRange(ctx context.Context, from, to time.Time, statusCode *int, limit, offset int) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	q := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if statusCode != nil {
		q = q.Where("status_code = ?", *statusCode)
	}

	err := q.Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, err
}

func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time) (float64, error) {
	var avg sql.NullFloat64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Select("AVG(response_time_ms)").
		Row().
		Scan(&avg)

	return avg.Float64, err
}

// GetPercentile returns the nearest-rank percentile of response times.
func (r *RequestLogRepository) GetPercentile(ctx context.Context, from, to time.Time, total int64, percentile float64) (int, error) {
	if total == 0 {
		return 0, nil
	}

	offset := int(float64(total-1) * percentile)

	var value int
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("response_time_ms").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("response_time_ms ASC").
		Offset(offset).
		Limit(1).
		Row().
		Scan(&value)

	return value, err
}

func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to).
		Count(&count).Error

	return count, err
}

type GroupCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// CountBy groups logs in the range by one of a fixed set of columns.
func (r *RequestLogRepository) CountBy(ctx context.Context, column string, from, to time.Time, limit int) ([]GroupCount, error) {
	switch column {
	case "path", "tier", "error_code", "account_name":
	default:
		return nil, nil
	}

	var results []GroupCount
	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select(column+" AS name, COUNT(*) AS count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Where(column+" <> ?", "").
		Group(column).
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

type TimedSample struct {
	Timestamp      time.Time
	ResponseTimeMs int
}

func (r *RequestLogRepository) Samples(ctx context.Context, from, to time.Time) ([]TimedSample, error) {
	var samples []TimedSample

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("timestamp, response_time_ms").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Order("timestamp ASC").
		Scan(&samples).Error

	return samples, err
}

func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
