package repository

import (
	"context"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"gorm.io/gorm"
)

// AuditRepository 시도 로그와 정합성 경보 저장소 인터페이스
type AuditRepository interface {
	// 시도 로그
	CreateAttempts(ctx context.Context, logs []*domain.RefundAttemptLog) error
	ListAttempts(ctx context.Context, refundRequestID string) ([]*domain.RefundAttemptLog, error)

	// 경보
	CreateAlert(ctx context.Context, alert *domain.ReconciliationAlert) error
	ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.ReconciliationAlert, error)
}

// auditRepository GORM 구현체
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository 생성자
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// CreateAttempts 시도 로그 일괄 저장
func (r *auditRepository) CreateAttempts(ctx context.Context, logs []*domain.RefundAttemptLog) error {
	if len(logs) == 0 {
		return nil
	}
	now := time.Now()
	for _, l := range logs {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
	}
	return r.db.WithContext(ctx).Create(&logs).Error
}

// ListAttempts 요청별 시도 로그
func (r *auditRepository) ListAttempts(ctx context.Context, refundRequestID string) ([]*domain.RefundAttemptLog, error) {
	var logs []*domain.RefundAttemptLog
	err := r.db.WithContext(ctx).
		Where("refund_request_id = ?", refundRequestID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// CreateAlert 경보 저장
func (r *auditRepository) CreateAlert(ctx context.Context, alert *domain.ReconciliationAlert) error {
	alert.CreatedAt = time.Now()
	if alert.Status == "" {
		alert.Status = domain.AlertStatusOpen
	}
	return r.db.WithContext(ctx).Create(alert).Error
}

// ListAlerts 상태별 경보 목록 (최신순)
func (r *auditRepository) ListAlerts(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.ReconciliationAlert, error) {
	var alerts []*domain.ReconciliationAlert
	query := r.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&alerts).Error
	return alerts, err
}
