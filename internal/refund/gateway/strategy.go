package gateway

// Endpoint 게이트웨이 엔드포인트 구분
type Endpoint string

const (
	EndpointPostService Endpoint = "postservice" // merchant postservice (command 기반)
	EndpointRefundV2    Endpoint = "refund_v2"   // JSON 환불 API
)

// Encoding 요청 본문 인코딩
type Encoding string

const (
	EncodingForm Encoding = "form"
	EncodingJSON Encoding = "json"
)

// HashAlgo 인증 해시 알고리즘
type HashAlgo string

const (
	HashSHA512 HashAlgo = "sha512"
	HashSHA256 HashAlgo = "sha256"
)

// Source 파라미터/해시 입력값의 출처
type Source string

const (
	SourceMerchantKey      Source = "merchant_key"
	SourceSalt             Source = "salt"
	SourceCommand          Source = "command"
	SourceGatewayReference Source = "gateway_reference"
	SourceMerchantTxnID    Source = "merchant_txn_id"
	SourceRefundToken      Source = "refund_token"
	SourceAmount           Source = "amount"
	SourceReason           Source = "reason"
)

// Param 전송 파라미터 이름과 값 출처
type Param struct {
	Name   string
	Source Source
}

// Strategy 게이트웨이에 시도할 요청 형태 하나
//
// 같은 환불 API가 과거에 여러 형태를 허용했고 어느 형태가 가맹점 계정에서
// 통하는지 미리 알 수 없으므로, 형태 자체를 데이터로 기술하고 Adapter 하나가
// 동일하게 실행한다.
type Strategy struct {
	Name       string
	Command    string
	Endpoint   Endpoint
	Encoding   Encoding
	Params     []Param
	HashParam  string   // 해시를 담을 파라미터 이름
	HashFields []Source // 순서대로 '|'로 연결해 해시
	HashAlgo   HashAlgo
}

// DefaultStrategies 우선순위 순서의 기본 전략 목록
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:     "cancel_refund_by_gateway_id",
			Command:  "cancel_refund_transaction",
			Endpoint: EndpointPostService,
			Encoding: EncodingForm,
			Params: []Param{
				{Name: "key", Source: SourceMerchantKey},
				{Name: "command", Source: SourceCommand},
				{Name: "var1", Source: SourceGatewayReference},
				{Name: "var2", Source: SourceRefundToken},
				{Name: "var3", Source: SourceAmount},
			},
			HashParam:  "hash",
			HashFields: []Source{SourceMerchantKey, SourceCommand, SourceGatewayReference, SourceSalt},
			HashAlgo:   HashSHA512,
		},
		{
			Name:     "cancel_refund_by_merchant_txn",
			Command:  "cancel_refund_transaction",
			Endpoint: EndpointPostService,
			Encoding: EncodingForm,
			Params: []Param{
				{Name: "key", Source: SourceMerchantKey},
				{Name: "command", Source: SourceCommand},
				{Name: "var1", Source: SourceMerchantTxnID},
				{Name: "var2", Source: SourceRefundToken},
				{Name: "var3", Source: SourceAmount},
			},
			HashParam:  "hash",
			HashFields: []Source{SourceMerchantKey, SourceCommand, SourceMerchantTxnID, SourceSalt},
			HashAlgo:   HashSHA512,
		},
		{
			Name:     "refund_v2_json",
			Endpoint: EndpointRefundV2,
			Encoding: EncodingJSON,
			Params: []Param{
				{Name: "key", Source: SourceMerchantKey},
				{Name: "txnid", Source: SourceMerchantTxnID},
				{Name: "mihpayid", Source: SourceGatewayReference},
				{Name: "amount", Source: SourceAmount},
				{Name: "refund_token", Source: SourceRefundToken},
				{Name: "reason", Source: SourceReason},
			},
			HashParam:  "hash",
			HashFields: []Source{SourceMerchantKey, SourceMerchantTxnID, SourceAmount, SourceRefundToken, SourceSalt},
			HashAlgo:   HashSHA512,
		},
		{
			Name:     "legacy_refund_transaction",
			Command:  "refund_transaction",
			Endpoint: EndpointPostService,
			Encoding: EncodingForm,
			Params: []Param{
				{Name: "key", Source: SourceMerchantKey},
				{Name: "command", Source: SourceCommand},
				{Name: "var1", Source: SourceMerchantTxnID},
				{Name: "var2", Source: SourceAmount},
			},
			HashParam:  "hash",
			HashFields: []Source{SourceMerchantKey, SourceCommand, SourceMerchantTxnID, SourceAmount, SourceSalt},
			HashAlgo:   HashSHA512,
		},
	}
}
