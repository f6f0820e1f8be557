package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &Config{
		MerchantKey:    "MKEY",
		Salt:           "SALT",
		PostServiceURL: srv.URL + "/merchant/postservice",
		RefundV2URL:    srv.URL + "/refund/v2",
		AttemptTimeout: 2 * time.Second,
		UserAgent:      "refund-reconciler/test",
	}
	return NewAdapter(cfg, nil), &calls
}

func testIdentity() *domain.ResolvedIdentity {
	return &domain.ResolvedIdentity{
		MerchantTxnID:      "MER-9",
		GatewayReferenceID: "GW-9",
		Provenance:         domain.ProvenancePaymentRecord,
		OrderID:            "Q-100",
	}
}

func testInput() AttemptInput {
	return AttemptInput{
		Amount:      decimal.RequireFromString("50"),
		RefundToken: "RF0123456789abcdef0123",
		Reason:      "customer request",
	}
}

func TestAdapter_Attempt_FormRequest(t *testing.T) {
	strategies := DefaultStrategies()

	t.Run("form 인코딩 파라미터와 해시", func(t *testing.T) {
		var got url.Values
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			assert.Equal(t, "/merchant/postservice", r.URL.Path)
			require.NoError(t, r.ParseForm())
			got = r.PostForm
			_, _ = w.Write([]byte(`{"status":1,"msg":"Refund Request Queued","request_id":"RQ-1"}`))
		})

		result := adapter.Attempt(context.Background(), strategies[1], testIdentity(), testInput())

		require.NotNil(t, result)
		assert.Equal(t, domain.OutcomeSuccess, result.Outcome)
		assert.Equal(t, domain.CodeOK, result.Code)
		assert.Equal(t, "RQ-1", result.GatewayRefund)
		assert.Equal(t, "cancel_refund_by_merchant_txn", result.Strategy)

		assert.Equal(t, "MKEY", got.Get("key"))
		assert.Equal(t, "cancel_refund_transaction", got.Get("command"))
		assert.Equal(t, "MER-9", got.Get("var1"))
		assert.Equal(t, "RF0123456789abcdef0123", got.Get("var2"))
		assert.Equal(t, "50.00", got.Get("var3"))

		sum := sha512.Sum512([]byte("MKEY|cancel_refund_transaction|MER-9|SALT"))
		assert.Equal(t, hex.EncodeToString(sum[:]), got.Get("hash"))
		assert.Empty(t, got.Get("salt"))
	})

	t.Run("JSON 인코딩 요청", func(t *testing.T) {
		var got map[string]string
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "/refund/v2", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{"status":"1","message":"ok"}`))
		})

		result := adapter.Attempt(context.Background(), strategies[2], testIdentity(), testInput())

		assert.True(t, result.Succeeded())
		assert.Equal(t, "MER-9", got["txnid"])
		assert.Equal(t, "GW-9", got["mihpayid"])
		assert.Equal(t, "50.00", got["amount"])
		assert.Equal(t, "customer request", got["reason"])
		assert.Len(t, got["hash"], 128)
	})
}

func TestAdapter_Attempt_Classification(t *testing.T) {
	strategy := DefaultStrategies()[0]

	tests := []struct {
		name    string
		status  int
		body    string
		outcome domain.Outcome
		code    string
	}{
		{"status 1 성공", 200, `{"status":1,"msg":"Refund Request Queued"}`, domain.OutcomeSuccess, domain.CodeOK},
		{"상태 없는 queued 메시지 성공", 200, `{"msg":"refund queued for processing"}`, domain.OutcomeSuccess, domain.CodeOK},
		{"status 0 queued 메시지는 거절", 200, `{"status":0,"msg":"refund queued for processing"}`, domain.OutcomePermanentFailure, domain.CodeGatewayRejected},
		{"not queued는 거절", 200, `{"status":0,"msg":"request not queued"}`, domain.OutcomePermanentFailure, domain.CodeGatewayRejected},
		{"could not be queued는 거절", 200, `{"status":0,"msg":"Refund could not be queued"}`, domain.OutcomePermanentFailure, domain.CodeGatewayRejected},
		{"상태 없는 cannot be queued는 거절", 200, `{"msg":"Refund cannot be queued"}`, domain.OutcomePermanentFailure, domain.CodeGatewayRejected},
		{"queued 문구가 있는 해시 오류", 200, `{"msg":"Invalid Hash, refund not queued"}`, domain.OutcomePermanentFailure, domain.CodeInvalidHash},
		{"form 인코딩 응답", 200, `status=1&msg=Refund+Request+Queued`, domain.OutcomeSuccess, domain.CodeOK},
		{"잘못된 해시", 200, `{"status":0,"msg":"Invalid Hash."}`, domain.OutcomePermanentFailure, domain.CodeInvalidHash},
		{"거래 없음", 200, `{"status":0,"msg":"Transaction does not exist"}`, domain.OutcomePermanentFailure, domain.CodeTxnNotFound},
		{"금액 초과", 200, `{"status":0,"msg":"Refund amount exceeds the captured amount"}`, domain.OutcomePermanentFailure, domain.CodeInvalidAmount},
		{"기타 거절", 200, `{"status":0,"msg":"Duplicate refund token"}`, domain.OutcomePermanentFailure, domain.CodeGatewayRejected},
		{"503", 503, `Service Unavailable`, domain.OutcomeRetryableFailure, domain.CodeHTTP5xx},
		{"429", 429, `slow down`, domain.OutcomeRetryableFailure, domain.CodeRateLimited},
		{"해석 불가 본문", 200, `<html>oops</html>`, domain.OutcomeRetryableFailure, domain.CodeMalformedResponse},
		{"빈 본문", 200, ``, domain.OutcomeRetryableFailure, domain.CodeMalformedResponse},
		{"비 JSON 4xx", 403, `Forbidden`, domain.OutcomePermanentFailure, domain.CodeHTTP4xx},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, calls := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			result := adapter.Attempt(context.Background(), strategy, testIdentity(), testInput())

			assert.Equal(t, tt.outcome, result.Outcome)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.status, result.HTTPStatus)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		})
	}
}

func TestAdapter_Attempt_Transport(t *testing.T) {
	t.Run("타임아웃은 재시도 가능", func(t *testing.T) {
		release := make(chan struct{})
		adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)
		adapter.config.AttemptTimeout = 50 * time.Millisecond

		result := adapter.Attempt(context.Background(), DefaultStrategies()[0], testIdentity(), testInput())

		assert.Equal(t, domain.OutcomeRetryableFailure, result.Outcome)
		assert.Equal(t, domain.CodeTimeout, result.Code)
	})

	t.Run("연결 실패는 재시도 가능", func(t *testing.T) {
		cfg := &Config{
			MerchantKey:    "MKEY",
			Salt:           "SALT",
			PostServiceURL: "http://127.0.0.1:1/postservice",
			AttemptTimeout: time.Second,
		}
		adapter := NewAdapter(cfg, nil)

		result := adapter.Attempt(context.Background(), DefaultStrategies()[0], testIdentity(), testInput())

		assert.Equal(t, domain.OutcomeRetryableFailure, result.Outcome)
		assert.Contains(t, []string{domain.CodeTransportError, domain.CodeTimeout}, result.Code)
		assert.NotContains(t, result.Message, "SALT")
		assert.NotContains(t, result.Message, "MKEY")
	})
}

func TestAdapter_Attempt_MissingMerchantTxn(t *testing.T) {
	adapter, calls := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":1}`))
	})
	identity := testIdentity()
	identity.MerchantTxnID = ""

	result := adapter.Attempt(context.Background(), DefaultStrategies()[1], identity, testInput())

	assert.Equal(t, domain.OutcomePermanentFailure, result.Outcome)
	assert.Equal(t, domain.CodeRequestBuild, result.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestAdapter_Hash_Deterministic(t *testing.T) {
	adapter := NewAdapter(&Config{MerchantKey: "MKEY", Salt: "SALT"}, nil)
	strategy := DefaultStrategies()[3]

	first, err := adapter.Hash(strategy, testIdentity(), testInput())
	require.NoError(t, err)
	second, err := adapter.Hash(strategy, testIdentity(), testInput())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	sum := sha512.Sum512([]byte(strings.Join([]string{"MKEY", "refund_transaction", "MER-9", "50.00", "SALT"}, "|")))
	assert.Equal(t, hex.EncodeToString(sum[:]), first)
}

func TestAdapter_RawResponseTruncated(t *testing.T) {
	long := `{"status":0,"msg":"` + strings.Repeat("x", 10000) + `"}`
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(long))
	})

	result := adapter.Attempt(context.Background(), DefaultStrategies()[0], testIdentity(), testInput())

	assert.Len(t, result.RawResponse, maxRawResponse)
}

func TestTruncate_KeepsValidUTF8(t *testing.T) {
	// 3바이트 문자가 경계에 걸치도록 구성
	s := "a" + strings.Repeat("환", 10)

	got := truncate(s, 6)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a환", got)

	assert.Equal(t, s, truncate(s, len(s)))
	assert.True(t, utf8.ValidString(truncate("ok\xff\xfe", 100)))
}

func TestAdapter_RawResponseTruncatedOnRuneBoundary(t *testing.T) {
	long := `{"status":0,"msg":"` + strings.Repeat("환", 3000) + `"}`
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(long))
	})

	result := adapter.Attempt(context.Background(), DefaultStrategies()[0], testIdentity(), testInput())

	assert.True(t, utf8.ValidString(result.RawResponse))
	assert.LessOrEqual(t, len(result.RawResponse), maxRawResponse)
}
