package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/repository"
	"github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// 메타데이터에서 가맹점 거래 ID를 찾을 키 (우선순위 순)
var metadataTxnKeys = []string{"txnid", "merchant_txn_id", "merchantTxnId"}

// TransactionResolver 게이트웨이 참조 ID로 가맹점 거래 ID를 결정
type TransactionResolver interface {
	Resolve(ctx context.Context, gatewayReferenceID, orderID string) (*domain.ResolvedIdentity, error)
}

// transactionResolver 단계별 조회 구현체 (읽기 전용)
type transactionResolver struct {
	repo repository.TransactionRepository
}

// NewTransactionResolver 생성자
func NewTransactionResolver(repo repository.TransactionRepository) TransactionResolver {
	return &transactionResolver{repo: repo}
}

// Resolve 결제 기록 → 메타데이터 → 원장 → 수동 매핑 순으로 조회. 모두 실패하면 ErrIdentityNotFound
// 게이트웨이 ID를 가맹점 거래 ID로 대체하지 않는다
func (r *transactionResolver) Resolve(ctx context.Context, gatewayReferenceID, orderID string) (*domain.ResolvedIdentity, error) {
	log := logger.GetLogger().With().
		Str("gateway_ref", gatewayReferenceID).
		Str("order_id", orderID).
		Logger()

	payment, err := r.repo.FindPaymentByGatewayRef(ctx, gatewayReferenceID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("tier", "payment_record").Msg("no payment record for gateway reference")
			return nil, fmt.Errorf("%w: no payment record for %s", ErrIdentityNotFound, gatewayReferenceID)
		}
		return nil, fmt.Errorf("find payment: %w", err)
	}

	order, err := r.repo.FindOrder(ctx, payment.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("payment_order_id", payment.OrderID).Msg("payment references a missing order")
			return nil, fmt.Errorf("%w: order %s not found", ErrIdentityNotFound, payment.OrderID)
		}
		return nil, fmt.Errorf("find order: %w", err)
	}

	identity := &domain.ResolvedIdentity{
		GatewayReferenceID: gatewayReferenceID,
		TransactionID:      payment.ID,
		OrderID:            order.ID,
		Currency:           payment.Currency,
		Transaction:        payment,
		Order:              order,
	}

	// 1. 결제 기록의 가맹점 거래 ID
	if payment.MerchantTxnID != nil {
		if id := usable(*payment.MerchantTxnID, gatewayReferenceID); id != "" {
			return r.hit(log, identity, id, domain.ProvenancePaymentRecord), nil
		}
	}
	log.Debug().Str("tier", string(domain.ProvenancePaymentRecord)).Msg("tier miss")

	// 2. 같은 기록의 메타데이터
	if id := usable(metadataTxnID(payment.MetaData), gatewayReferenceID); id != "" {
		return r.hit(log, identity, id, domain.ProvenancePaymentMeta), nil
	}
	log.Debug().Str("tier", string(domain.ProvenancePaymentMeta)).Msg("tier miss")

	// 3. 원장 교차 조회
	ledgerID, err := r.repo.FindLedgerMerchantTxnID(ctx, gatewayReferenceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ledger cross-reference: %w", err)
	}
	if id := usable(ledgerID, gatewayReferenceID); id != "" {
		return r.hit(log, identity, id, domain.ProvenanceLedgerXRef), nil
	}
	log.Debug().Str("tier", string(domain.ProvenanceLedgerXRef)).Msg("tier miss")

	// 4. 수동 매핑
	override, err := r.repo.FindOverride(ctx, gatewayReferenceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("manual override: %w", err)
	}
	if override != nil {
		if id := usable(override.MerchantTxnID, gatewayReferenceID); id != "" {
			log.Info().
				Str("override_note", override.Note).
				Str("override_by", override.CreatedBy).
				Msg("using manual transaction id override")
			return r.hit(log, identity, id, domain.ProvenanceManualOverride), nil
		}
	}

	// 5. 실패 처리
	log.Warn().Uint64("transaction_id", payment.ID).Msg("merchant transaction id not resolvable")
	return nil, fmt.Errorf("%w: gateway reference %s", ErrIdentityNotFound, gatewayReferenceID)
}

func (r *transactionResolver) hit(log zerolog.Logger, identity *domain.ResolvedIdentity, merchantTxnID string, provenance domain.Provenance) *domain.ResolvedIdentity {
	identity.MerchantTxnID = merchantTxnID
	identity.Provenance = provenance
	log.Info().
		Str("tier", string(provenance)).
		Str("merchant_txn_id", merchantTxnID).
		Msg("merchant transaction id resolved")
	return identity
}

// usable 비어 있거나 게이트웨이 ID와 같은 값(과거 ID 충돌)은 사용하지 않음
func usable(candidate, gatewayReferenceID string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || candidate == gatewayReferenceID {
		return ""
	}
	return candidate
}

// metadataTxnID 메타데이터 JSON에서 가맹점 거래 ID 추출
func metadataTxnID(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return ""
	}
	for _, key := range metadataTxnKeys {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
