package repository

import (
	"context"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"gorm.io/gorm"
)

// RequestRepository 환불 요청 상태 저장소 인터페이스
type RequestRepository interface {
	// Claim 멱등 키로 요청 행을 선점. 이미 있으면 기존 행과 false 반환
	Claim(ctx context.Context, record *domain.RefundRequestRecord) (*domain.RefundRequestRecord, bool, error)
	// Reacquire 지정 상태 중 하나일 때만 received로 되돌려 재선점
	Reacquire(ctx context.Context, id string, from []domain.RefundState) (bool, error)
	Transition(ctx context.Context, id string, state domain.RefundState, fields map[string]interface{}) error
	// TransitionFrom 현재 상태가 from 중 하나일 때만 변경
	TransitionFrom(ctx context.Context, id string, from []domain.RefundState, to domain.RefundState, fields map[string]interface{}) (bool, error)
	// FindStalled 지정 상태로 cutoff 이전부터 갱신이 없는 요청
	FindStalled(ctx context.Context, states []domain.RefundState, cutoff time.Time, limit int) ([]*domain.RefundRequestRecord, error)

	FindByID(ctx context.Context, id string) (*domain.RefundRequestRecord, error)
	FindByKey(ctx context.Context, idempotencyKey string) (*domain.RefundRequestRecord, error)
}

// requestRepository GORM 구현체
type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository 생성자
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

// Claim 요청 행 생성. 유니크 키 충돌 시 기존 행 조회
func (r *requestRepository) Claim(ctx context.Context, record *domain.RefundRequestRecord) (*domain.RefundRequestRecord, bool, error) {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.State == "" {
		record.State = domain.RefundStateReceived
	}

	err := r.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return record, true, nil
	}
	if !isDuplicateKey(err) {
		return nil, false, err
	}

	existing, findErr := r.FindByKey(ctx, record.IdempotencyKey)
	if findErr != nil {
		return nil, false, findErr
	}
	return existing, false, nil
}

// Reacquire 조건부 상태 변경. 다른 요청이 먼저 가져갔으면 false
func (r *requestRepository) Reacquire(ctx context.Context, id string, from []domain.RefundState) (bool, error) {
	return r.TransitionFrom(ctx, id, from, domain.RefundStateReceived, map[string]interface{}{"last_error": ""})
}

// TransitionFrom 조건부 상태 변경
func (r *requestRepository) TransitionFrom(ctx context.Context, id string, from []domain.RefundState, to domain.RefundState, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"state":      to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&domain.RefundRequestRecord{}).
		Where("id = ? AND state IN ?", id, from).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindStalled 오래된 순
func (r *requestRepository) FindStalled(ctx context.Context, states []domain.RefundState, cutoff time.Time, limit int) ([]*domain.RefundRequestRecord, error) {
	var records []*domain.RefundRequestRecord
	err := r.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", states, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// Transition 상태 변경 (추가 컬럼 함께 갱신)
func (r *requestRepository) Transition(ctx context.Context, id string, state domain.RefundState, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"state":      state,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	return r.db.WithContext(ctx).Model(&domain.RefundRequestRecord{}).
		Where("id = ?", id).
		UpdateColumns(updates).Error
}

// FindByID ID로 조회
func (r *requestRepository) FindByID(ctx context.Context, id string) (*domain.RefundRequestRecord, error) {
	var record domain.RefundRequestRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByKey 멱등 키로 조회
func (r *requestRepository) FindByKey(ctx context.Context, idempotencyKey string) (*domain.RefundRequestRecord, error) {
	var record domain.RefundRequestRecord
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
