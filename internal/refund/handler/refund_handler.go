package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/damoang/refund-reconciler/internal/common"
	"github.com/damoang/refund-reconciler/internal/middleware"
	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	"github.com/damoang/refund-reconciler/pkg/ginutil"
	"github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RefundHandler 관리자 환불 HTTP 핸들러
type RefundHandler struct {
	service service.RefundService
}

// NewRefundHandler 생성자
func NewRefundHandler(svc service.RefundService) *RefundHandler {
	return &RefundHandler{service: svc}
}

// RefundSettledResponse 정산 완료 응답
type RefundSettledResponse struct {
	Success    bool                     `json:"success"`
	RefundID   string                   `json:"refundId"`
	GatewayRef string                   `json:"gatewayRef"`
	Status     string                   `json:"status"`
	Duplicate  bool                     `json:"duplicate,omitempty"`
	Settlement *domain.SettlementRecord `json:"settlement"`
}

// RefundQueuedResponse 재시도 큐 등록 응답
type RefundQueuedResponse struct {
	Success   bool                 `json:"success"`
	Queued    bool                 `json:"queued"`
	QueueID   uint64               `json:"queueId"`
	Priority  domain.QueuePriority `json:"priority"`
	NextRunAt time.Time            `json:"nextRunAt"`
}

// RefundErrorResponse 환불 실패 응답
type RefundErrorResponse struct {
	Success     bool         `json:"success"`
	Error       string       `json:"error"`
	Code        string       `json:"code,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Diagnostics 전략별 실패 요약
type Diagnostics struct {
	PerStrategyFailures []domain.StrategyFailure `json:"perStrategyFailures"`
}

// CreateRefund godoc
// @Summary      환불 요청
// @Description  게이트웨이 환불을 시도하고 성공하면 원장에 정산합니다. 일시 실패는 재시도 큐에 등록됩니다
// @Tags         admin-refunds
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        Idempotency-Key  header    string                      false  "클라이언트 요청 키 (감사용)"
// @Param        request          body      domain.CreateRefundRequest  true   "환불 요청"
// @Success      200  {object}  RefundSettledResponse
// @Success      202  {object}  RefundQueuedResponse
// @Failure      400  {object}  RefundErrorResponse
// @Failure      401  {object}  common.Response
// @Failure      403  {object}  common.Response
// @Failure      404  {object}  RefundErrorResponse
// @Failure      409  {object}  RefundErrorResponse
// @Failure      500  {object}  RefundErrorResponse
// @Router       /admin/refunds [post]
func (h *RefundHandler) CreateRefund(c *gin.Context) {
	var dto domain.CreateRefundRequest
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, RefundErrorResponse{Error: "Invalid request body", Code: common.ErrorCode(http.StatusBadRequest)})
		return
	}
	if err := refundValidator.Struct(&dto); err != nil {
		c.JSON(http.StatusBadRequest, RefundErrorResponse{
			Error: "amount must be positive with at most two decimal places",
			Code:  common.ErrorCode(http.StatusBadRequest),
		})
		return
	}

	req := domain.NewRefundRequest(&dto, middleware.GetUserID(c), c.GetHeader("Idempotency-Key"))
	result, err := h.service.ProcessRefund(c.Request.Context(), req)
	if err != nil {
		h.refundError(c, req, err)
		return
	}

	if result.State == domain.RefundStateQueued {
		c.JSON(http.StatusAccepted, RefundQueuedResponse{
			Queued:    true,
			QueueID:   result.Queue.QueueID,
			Priority:  result.Queue.Priority,
			NextRunAt: result.Queue.NextRunAt,
		})
		return
	}

	c.JSON(http.StatusOK, RefundSettledResponse{
		Success:    true,
		RefundID:   result.Settlement.ID,
		GatewayRef: result.Settlement.GatewayReferenceID,
		Status:     "processing",
		Duplicate:  result.Settlement.Duplicate,
		Settlement: result.Settlement,
	})
}

// refundError 서비스 에러를 HTTP 상태로 변환. 내부 에러 문자열은 노출하지 않음
func (h *RefundHandler) refundError(c *gin.Context, req *domain.RefundRequest, err error) {
	var permanent *service.PermanentFailureError
	switch {
	case errors.As(err, &permanent):
		c.JSON(http.StatusBadRequest, RefundErrorResponse{
			Error:       permanent.Error(),
			Code:        permanent.Code,
			Diagnostics: &Diagnostics{PerStrategyFailures: permanent.Failures},
		})
	case errors.Is(err, service.ErrMissingGatewayReference),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidRefundKind),
		errors.Is(err, service.ErrOverRefund),
		errors.Is(err, service.ErrNotRefundable),
		errors.Is(err, service.ErrMissingActor):
		c.JSON(http.StatusBadRequest, RefundErrorResponse{Error: err.Error(), Code: common.ErrorCode(http.StatusBadRequest)})
	case errors.Is(err, service.ErrIdentityNotFound):
		c.JSON(http.StatusNotFound, RefundErrorResponse{Error: service.ErrIdentityNotFound.Error(), Code: common.ErrorCode(http.StatusNotFound)})
	case errors.Is(err, service.ErrRefundInProgress):
		c.JSON(http.StatusConflict, RefundErrorResponse{Error: err.Error(), Code: common.ErrorCode(http.StatusConflict)})
	case errors.Is(err, service.ErrSettlementDiverged):
		c.JSON(http.StatusInternalServerError, RefundErrorResponse{
			Error: "Gateway accepted the refund but it could not be recorded; reconciliation required",
			Code:  "SETTLEMENT_DIVERGED",
		})
	default:
		log := logger.WithRequestID(middleware.GetRequestID(c))
		log.Error().
			Err(err).
			Str("refund_request_id", req.RequestID).
			Msg("refund processing failed")
		c.JSON(http.StatusInternalServerError, RefundErrorResponse{Error: "Failed to process refund", Code: common.ErrorCode(http.StatusInternalServerError)})
	}
}

// GetQueueEntry godoc
// @Summary      재시도 큐 항목 조회
// @Tags         admin-refunds
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "큐 항목 ID"
// @Success      200  {object}  common.Response{data=domain.RetryQueueEntry}
// @Failure      400  {object}  common.Response
// @Failure      404  {object}  common.Response
// @Router       /admin/refunds/queue/{id} [get]
func (h *RefundHandler) GetQueueEntry(c *gin.Context) {
	id, err := ginutil.ParamUint64(c, "id")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid queue id", nil)
		return
	}

	entry, err := h.service.GetQueueEntry(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrQueueEntryNotFound) {
			common.ErrorResponse(c, http.StatusNotFound, "Queue entry not found", nil)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load queue entry", nil)
		return
	}

	common.SuccessResponse(c, entry)
}

// ReplayQueueEntry godoc
// @Summary      재시도 큐 항목 수동 재실행
// @Description  pending 상태의 항목을 즉시 한 번 재실행합니다
// @Tags         admin-refunds
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "큐 항목 ID"
// @Success      200  {object}  common.Response{data=service.ReplayResult}
// @Failure      404  {object}  common.Response
// @Failure      409  {object}  common.Response
// @Failure      500  {object}  common.Response
// @Router       /admin/refunds/queue/{id}/replay [post]
func (h *RefundHandler) ReplayQueueEntry(c *gin.Context) {
	id, err := ginutil.ParamUint64(c, "id")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid queue id", nil)
		return
	}

	result, err := h.service.ReplayQueued(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQueueEntryNotFound):
			common.ErrorResponse(c, http.StatusNotFound, "Queue entry not found", nil)
		case errors.Is(err, service.ErrQueueEntryTerminal):
			common.ErrorResponse(c, http.StatusConflict, "Queue entry is already terminal", nil)
		case errors.Is(err, service.ErrQueueEntryBusy):
			common.ErrorResponse(c, http.StatusConflict, "Queue entry is being processed", nil)
		case errors.Is(err, service.ErrSettlementDiverged):
			common.ErrorResponse(c, http.StatusInternalServerError, "Gateway accepted the refund but it could not be recorded; reconciliation required", nil)
		default:
			log := logger.WithRequestID(middleware.GetRequestID(c))
			log.Error().Err(err).Uint64("queue_id", id).Msg("queue replay failed")
			common.ErrorResponse(c, http.StatusInternalServerError, "Failed to replay queue entry", nil)
		}
		return
	}

	common.SuccessResponse(c, result)
}

// ListAlerts godoc
// @Summary      미처리 정합성 경보 목록
// @Tags         admin-refunds
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "최대 건수 (기본 50)"
// @Success      200    {object}  common.Response{data=[]domain.ReconciliationAlert}
// @Router       /admin/refunds/alerts [get]
func (h *RefundHandler) ListAlerts(c *gin.Context) {
	alerts, err := h.service.ListAlerts(c.Request.Context(), ginutil.QueryInt(c, "limit", 50))
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load alerts", nil)
		return
	}
	common.SuccessResponse(c, alerts)
}

// ListAttempts godoc
// @Summary      환불 요청별 게이트웨이 시도 기록
// @Tags         admin-refunds
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "환불 요청 ID"
// @Success      200  {object}  common.Response{data=[]domain.RefundAttemptLog}
// @Router       /admin/refunds/requests/{id}/attempts [get]
func (h *RefundHandler) ListAttempts(c *gin.Context) {
	logs, err := h.service.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to load attempts", nil)
		return
	}
	common.SuccessResponse(c, logs)
}
