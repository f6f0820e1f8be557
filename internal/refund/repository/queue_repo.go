package repository

import (
	"context"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository 재시도 큐 저장소 인터페이스
type QueueRepository interface {
	Enqueue(ctx context.Context, entry *domain.RetryQueueEntry) error
	FindByID(ctx context.Context, id uint64) (*domain.RetryQueueEntry, error)
	FindActiveByRequest(ctx context.Context, refundRequestID string) (*domain.RetryQueueEntry, error)

	// ClaimDue 실행 시각이 된 pending 항목을 최대 limit개 processing으로 선점
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryQueueEntry, error)
	// MarkProcessing pending 항목 하나를 선점 (수동 재실행)
	MarkProcessing(ctx context.Context, id uint64) error
	// ReleaseStale 워커가 중단돼 processing에 남은 항목을 pending으로 되돌림
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
	Update(ctx context.Context, id uint64, fields map[string]interface{}) error
	CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error)
}

// queueRepository GORM 구현체
type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository 생성자
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

// Enqueue 큐 항목 저장
func (r *queueRepository) Enqueue(ctx context.Context, entry *domain.RetryQueueEntry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = domain.QueueStatusPending
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindByID ID로 조회
func (r *queueRepository) FindByID(ctx context.Context, id uint64) (*domain.RetryQueueEntry, error) {
	var entry domain.RetryQueueEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindActiveByRequest 요청의 미완료 큐 항목 조회
func (r *queueRepository) FindActiveByRequest(ctx context.Context, refundRequestID string) (*domain.RetryQueueEntry, error) {
	var entry domain.RetryQueueEntry
	err := r.db.WithContext(ctx).
		Where("refund_request_id = ? AND status IN ?", refundRequestID,
			[]domain.QueueStatus{domain.QueueStatusPending, domain.QueueStatusProcessing}).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ClaimDue 우선순위(high 먼저), 실행 시각 순으로 선점
func (r *queueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryQueueEntry, error) {
	var entries []*domain.RetryQueueEntry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_eligible_at <= ?", domain.QueueStatusPending, now).
			Order("priority ASC").
			Order("next_eligible_at ASC").
			Limit(limit).
			Find(&entries).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		ids := make([]uint64, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
			e.Status = domain.QueueStatusProcessing
		}
		return tx.Model(&domain.RetryQueueEntry{}).
			Where("id IN ?", ids).
			UpdateColumns(map[string]interface{}{
				"status":     domain.QueueStatusProcessing,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkProcessing pending일 때만 processing으로 변경
func (r *queueRepository) MarkProcessing(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Model(&domain.RetryQueueEntry{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusPending).
		UpdateColumns(map[string]interface{}{
			"status":     domain.QueueStatusProcessing,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}

// ReleaseStale cutoff 이전부터 processing인 항목 반환
func (r *queueRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.RetryQueueEntry{}).
		Where("status = ? AND updated_at < ?", domain.QueueStatusProcessing, cutoff).
		UpdateColumns(map[string]interface{}{
			"status":     domain.QueueStatusPending,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// Update 항목 갱신
func (r *queueRepository) Update(ctx context.Context, id uint64, fields map[string]interface{}) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range fields {
		updates[k] = v
	}
	return r.db.WithContext(ctx).Model(&domain.RetryQueueEntry{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error
}

// CountByStatus 상태별 건수 (대시보드용)
func (r *queueRepository) CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error) {
	var rows []struct {
		Status domain.QueueStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.RetryQueueEntry{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[domain.QueueStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
