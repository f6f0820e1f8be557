package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/shopspring/decimal"
)

const maxRawResponse = 4096

// Config 게이트웨이 설정. 환경 변수 대신 명시적으로 주입한다
type Config struct {
	MerchantKey    string
	Salt           string
	PostServiceURL string
	RefundV2URL    string
	AttemptTimeout time.Duration
	UserAgent      string
}

// 어댑터 에러 정의
var (
	ErrMissingField    = errors.New("required request field is empty")
	ErrUnknownEndpoint = errors.New("unknown gateway endpoint")
)

// AttemptInput 시도별 환불 입력
type AttemptInput struct {
	Amount      decimal.Decimal
	RefundToken string
	Reason      string
}

// Adapter 전략 하나를 실행해 정규화된 결과로 변환
type Adapter struct {
	config     *Config
	httpClient *http.Client
}

// NewAdapter 생성자. httpClient가 nil이면 시도 타임아웃을 가진 기본 클라이언트 사용
func NewAdapter(config *Config, httpClient *http.Client) *Adapter {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 8 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.AttemptTimeout}
	}
	return &Adapter{config: config, httpClient: httpClient}
}

// Attempt 전략 하나로 게이트웨이 환불을 1회 호출한다. 로컬 상태는 변경하지 않음
func (a *Adapter) Attempt(ctx context.Context, s Strategy, identity *domain.ResolvedIdentity, in AttemptInput) *domain.AttemptResult {
	started := time.Now()
	result := &domain.AttemptResult{
		Strategy:    s.Name,
		AttemptedAt: started,
	}
	defer func() { result.Duration = time.Since(started) }()

	req, err := a.buildRequest(ctx, s, identity, in)
	if err != nil {
		// 요청을 만들 수 없으면 같은 입력으로는 계속 실패
		result.Outcome = domain.OutcomePermanentFailure
		result.Code = domain.CodeRequestBuild
		result.Message = err.Error()
		return result
	}

	attemptCtx, cancel := context.WithTimeout(ctx, a.config.AttemptTimeout)
	defer cancel()

	resp, err := a.httpClient.Do(req.WithContext(attemptCtx))
	if err != nil {
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = transportCode(err)
		result.Message = "gateway unreachable: " + transportMessage(err)
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = transportCode(err)
		result.Message = "failed to read gateway response"
		result.HTTPStatus = resp.StatusCode
		return result
	}

	result.HTTPStatus = resp.StatusCode
	result.RawResponse = truncate(string(body), maxRawResponse)
	classify(result, resp.StatusCode, body)
	return result
}

// buildRequest 전략 정의대로 인증된 요청 생성
func (a *Adapter) buildRequest(ctx context.Context, s Strategy, identity *domain.ResolvedIdentity, in AttemptInput) (*http.Request, error) {
	endpoint, err := a.endpointURL(s.Endpoint)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(s.Params)+1)
	order := make([]string, 0, len(s.Params)+1)
	for _, p := range s.Params {
		v, err := a.valueOf(p.Source, s, identity, in)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", p.Name, err)
		}
		values[p.Name] = v
		order = append(order, p.Name)
	}

	hash, err := a.Hash(s, identity, in)
	if err != nil {
		return nil, err
	}
	if s.HashParam != "" {
		values[s.HashParam] = hash
		order = append(order, s.HashParam)
	}

	var body []byte
	var contentType string
	switch s.Encoding {
	case EncodingJSON:
		body, err = json.Marshal(values)
		if err != nil {
			return nil, err
		}
		contentType = "application/json"
	default:
		form := url.Values{}
		for _, name := range order {
			form.Set(name, values[name])
		}
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if a.config.UserAgent != "" {
		req.Header.Set("User-Agent", a.config.UserAgent)
	}
	return req, nil
}

// Hash 전략의 필드 순서대로 연결한 인증 해시 (결정적)
func (a *Adapter) Hash(s Strategy, identity *domain.ResolvedIdentity, in AttemptInput) (string, error) {
	parts := make([]string, 0, len(s.HashFields))
	for _, src := range s.HashFields {
		v, err := a.valueOf(src, s, identity, in)
		if err != nil {
			return "", fmt.Errorf("hash field %s: %w", src, err)
		}
		parts = append(parts, v)
	}
	data := []byte(strings.Join(parts, "|"))

	switch s.HashAlgo {
	case HashSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:]), nil
	}
}

// valueOf 출처별 값 조회
func (a *Adapter) valueOf(src Source, s Strategy, identity *domain.ResolvedIdentity, in AttemptInput) (string, error) {
	var v string
	switch src {
	case SourceMerchantKey:
		v = a.config.MerchantKey
	case SourceSalt:
		v = a.config.Salt
	case SourceCommand:
		v = s.Command
	case SourceGatewayReference:
		v = identity.GatewayReferenceID
	case SourceMerchantTxnID:
		v = identity.MerchantTxnID
	case SourceRefundToken:
		v = in.RefundToken
	case SourceAmount:
		v = in.Amount.StringFixed(2)
	case SourceReason:
		// 사유는 선택값
		return in.Reason, nil
	default:
		return "", fmt.Errorf("unknown source %q", src)
	}
	if v == "" {
		return "", ErrMissingField
	}
	return v, nil
}

// endpointURL 엔드포인트 구분별 URL
func (a *Adapter) endpointURL(e Endpoint) (string, error) {
	switch e {
	case EndpointPostService:
		return a.config.PostServiceURL, nil
	case EndpointRefundV2:
		return a.config.RefundV2URL, nil
	}
	return "", ErrUnknownEndpoint
}

// classify HTTP 상태와 게이트웨이 본문으로 결과 분류
func classify(result *domain.AttemptResult, status int, body []byte) {
	switch {
	case status >= 500:
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = domain.CodeHTTP5xx
		result.Message = fmt.Sprintf("gateway returned HTTP %d", status)
		return
	case status == http.StatusTooManyRequests:
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = domain.CodeRateLimited
		result.Message = "gateway rate limited the request"
		return
	}

	parsed, ok := parseResponse(body)
	if !ok {
		if status >= 400 {
			result.Outcome = domain.OutcomePermanentFailure
			result.Code = domain.CodeHTTP4xx
			result.Message = fmt.Sprintf("gateway returned HTTP %d", status)
			return
		}
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = domain.CodeMalformedResponse
		result.Message = "unparseable gateway response"
		return
	}

	result.Message = parsed.message()
	result.GatewayRefund = parsed.requestID

	text := strings.ToLower(parsed.message())
	if parsed.status == "1" || (parsed.status == "" && queuedAcknowledgement(text)) {
		result.Outcome = domain.OutcomeSuccess
		result.Code = domain.CodeOK
		return
	}

	// status가 1이 아닌 값이면 메시지와 무관하게 거절
	result.Outcome = domain.OutcomePermanentFailure
	switch {
	case strings.Contains(text, "invalid hash"):
		result.Code = domain.CodeInvalidHash
	case strings.Contains(text, "not found"), strings.Contains(text, "does not exist"), strings.Contains(text, "invalid transaction"):
		result.Code = domain.CodeTxnNotFound
	case strings.Contains(text, "invalid amount"), strings.Contains(text, "exceeds"), strings.Contains(text, "amount is greater"):
		result.Code = domain.CodeInvalidAmount
	case parsed.status == "" && status < 400 && !strings.Contains(text, "queued"):
		// 상태 필드 없는 2xx 응답은 해석 불가
		result.Outcome = domain.OutcomeRetryableFailure
		result.Code = domain.CodeMalformedResponse
	default:
		result.Code = domain.CodeGatewayRejected
	}
}

// queuedAcknowledgement 상태 필드 없이 접수만 알리는 메시지. 부정 표현이 있으면 거절로 본다
func queuedAcknowledgement(text string) bool {
	if !strings.Contains(text, "queued") {
		return false
	}
	for _, negation := range []string{"not ", "cannot", "can't", "unable", "fail", "reject", "error", "invalid"} {
		if strings.Contains(text, negation) {
			return false
		}
	}
	return true
}

// gatewayResponse 게이트웨이 응답 공통 필드
type gatewayResponse struct {
	status    string
	msg       string
	errText   string
	requestID string
}

func (r gatewayResponse) message() string {
	switch {
	case r.msg != "" && r.errText != "":
		return r.msg + ": " + r.errText
	case r.msg != "":
		return r.msg
	}
	return r.errText
}

// parseResponse JSON 또는 form 인코딩 응답 파싱
func parseResponse(body []byte) (gatewayResponse, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return gatewayResponse{}, false
	}

	fields := map[string]interface{}{}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return gatewayResponse{}, false
		}
	} else {
		values, err := url.ParseQuery(string(trimmed))
		if err != nil || values.Get("status") == "" {
			return gatewayResponse{}, false
		}
		for k := range values {
			fields[k] = values.Get(k)
		}
	}

	r := gatewayResponse{
		status:    scalar(fields["status"]),
		msg:       scalar(fields["msg"]),
		errText:   scalar(fields["error"]),
		requestID: scalar(fields["request_id"]),
	}
	if r.msg == "" {
		r.msg = scalar(fields["message"])
	}
	if r.status == "" && r.msg == "" && r.errText == "" {
		return gatewayResponse{}, false
	}
	if strings.EqualFold(r.status, "success") {
		r.status = "1"
	}
	return r, true
}

// scalar JSON 값을 문자열로 (숫자 1 / "1" 모두 "1")
func scalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return decimal.NewFromFloat(t).String()
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

// transportCode 전송 계층 오류 코드
func transportCode(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.CodeTimeout
	}
	return domain.CodeTransportError
}

// transportMessage URL(쿼리 포함) 없이 원인만 남긴다
func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// truncate 최대 n바이트. 멀티바이트 문자 중간에서 자르지 않음
func truncate(s string, n int) string {
	if len(s) <= n {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.ToValidUTF8(s[:cut], "\uFFFD")
}
