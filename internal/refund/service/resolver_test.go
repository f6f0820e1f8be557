package service

import (
	"context"
	"errors"
	"testing"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockTransactionRepository 결제 조회 저장소 목
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) FindPaymentByGatewayRef(ctx context.Context, gatewayReferenceID, orderID string) (*domain.PaymentTransaction, error) {
	args := m.Called(ctx, gatewayReferenceID, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentTransaction), args.Error(1)
}

func (m *MockTransactionRepository) FindOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockTransactionRepository) FindLedgerMerchantTxnID(ctx context.Context, gatewayReferenceID string) (string, error) {
	args := m.Called(ctx, gatewayReferenceID)
	return args.String(0), args.Error(1)
}

func (m *MockTransactionRepository) FindOverride(ctx context.Context, gatewayReferenceID string) (*domain.TransactionIDOverride, error) {
	args := m.Called(ctx, gatewayReferenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransactionIDOverride), args.Error(1)
}

func strPtr(v string) *string { return &v }

func testPayment(gatewayRef string, merchantTxn *string, meta string) *domain.PaymentTransaction {
	return &domain.PaymentTransaction{
		ID:                 7,
		OrderID:            "Q-100",
		GatewayReferenceID: gatewayRef,
		MerchantTxnID:      merchantTxn,
		MetaData:           meta,
		Amount:             decimal.NewFromInt(100),
		Currency:           "USD",
		Status:             domain.PaymentStatusCompleted,
	}
}

func testOrder() *domain.Order {
	return &domain.Order{ID: "Q-100", Total: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100), Currency: "USD"}
}

func TestResolve_PaymentRecord(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-9", "").Return(testPayment("GW-9", strPtr("MER-9"), ""), nil)
	repo.On("FindOrder", mock.Anything, "Q-100").Return(testOrder(), nil)

	identity, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-9", "")

	require.NoError(t, err)
	assert.Equal(t, "MER-9", identity.MerchantTxnID)
	assert.Equal(t, domain.ProvenancePaymentRecord, identity.Provenance)
	assert.Equal(t, uint64(7), identity.TransactionID)
	assert.Equal(t, "Q-100", identity.OrderID)
	repo.AssertNotCalled(t, "FindLedgerMerchantTxnID", mock.Anything, mock.Anything)
}

func TestResolve_Metadata(t *testing.T) {
	tests := []struct {
		name string
		meta string
		want string
	}{
		{"txnid", `{"txnid":"MER-10"}`, "MER-10"},
		{"snake case", `{"merchant_txn_id":"MER-11"}`, "MER-11"},
		{"camel case", `{"merchantTxnId":"MER-12","txnid":""}`, "MER-12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockTransactionRepository)
			repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-10", "").Return(testPayment("GW-10", nil, tt.meta), nil)
			repo.On("FindOrder", mock.Anything, "Q-100").Return(testOrder(), nil)

			identity, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-10", "")

			require.NoError(t, err)
			assert.Equal(t, tt.want, identity.MerchantTxnID)
			assert.Equal(t, domain.ProvenancePaymentMeta, identity.Provenance)
		})
	}
}

func TestResolve_LedgerCrossReference(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-11", "Q-100").Return(testPayment("GW-11", strPtr(""), "not json"), nil)
	repo.On("FindOrder", mock.Anything, "Q-100").Return(testOrder(), nil)
	repo.On("FindLedgerMerchantTxnID", mock.Anything, "GW-11").Return("MER-11", nil)

	identity, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-11", "Q-100")

	require.NoError(t, err)
	assert.Equal(t, "MER-11", identity.MerchantTxnID)
	assert.Equal(t, domain.ProvenanceLedgerXRef, identity.Provenance)
	repo.AssertNotCalled(t, "FindOverride", mock.Anything, mock.Anything)
}

func TestResolve_CollisionFallsThroughToOverride(t *testing.T) {
	repo := new(MockTransactionRepository)
	// 과거 데이터: 가맹점 거래 ID 자리에 게이트웨이 ID가 저장됨
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-12", "").Return(testPayment("GW-12", strPtr("GW-12"), `{"txnid":"GW-12"}`), nil)
	repo.On("FindOrder", mock.Anything, "Q-100").Return(testOrder(), nil)
	repo.On("FindLedgerMerchantTxnID", mock.Anything, "GW-12").Return("", gorm.ErrRecordNotFound)
	repo.On("FindOverride", mock.Anything, "GW-12").Return(&domain.TransactionIDOverride{
		GatewayReferenceID: "GW-12",
		MerchantTxnID:      "MER-12",
		Note:               "ticket 4411",
		CreatedBy:          "ops",
	}, nil)

	identity, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-12", "")

	require.NoError(t, err)
	assert.Equal(t, "MER-12", identity.MerchantTxnID)
	assert.Equal(t, domain.ProvenanceManualOverride, identity.Provenance)
}

func TestResolve_NeverSubstitutesGatewayID(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-13", "").Return(testPayment("GW-13", strPtr("GW-13"), ""), nil)
	repo.On("FindOrder", mock.Anything, "Q-100").Return(testOrder(), nil)
	repo.On("FindLedgerMerchantTxnID", mock.Anything, "GW-13").Return("GW-13", nil)
	repo.On("FindOverride", mock.Anything, "GW-13").Return(nil, gorm.ErrRecordNotFound)

	identity, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-13", "")

	assert.Nil(t, identity)
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestResolve_NotFound(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-404", "").Return(nil, gorm.ErrRecordNotFound)

	_, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-404", "")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestResolve_MissingOrder(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-9", "").Return(testPayment("GW-9", strPtr("MER-9"), ""), nil)
	repo.On("FindOrder", mock.Anything, "Q-100").Return(nil, gorm.ErrRecordNotFound)

	_, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-9", "")
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestResolve_InfrastructureErrorIsNotIdentityFailure(t *testing.T) {
	repo := new(MockTransactionRepository)
	repo.On("FindPaymentByGatewayRef", mock.Anything, "GW-9", "").Return(nil, errors.New("dial tcp: connection refused"))

	_, err := NewTransactionResolver(repo).Resolve(context.Background(), "GW-9", "")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIdentityNotFound)
}
