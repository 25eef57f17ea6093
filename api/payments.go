package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/Domenick1991/roombooking/internal/auth"
	"github.com/Domenick1991/roombooking/internal/service/refund"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PaymentHandler struct {
	refunds refund.RefundUseCase
	log     logrus.FieldLogger
}

type refundRequest struct {
	AmountCents *int64 `json:"amount_cents"`
	Reason      string `json:"reason"`
}

type refundAcceptedResponse struct {
	RequestID   string `json:"request_id"`
	PaymentID   string `json:"payment_id"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Status      string `json:"status"`
}

func NewPaymentHandler(refunds refund.RefundUseCase, logger logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{refunds: refunds, log: logger}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/:id/refunds", h.refund)
}

func (h *PaymentHandler) refund(c *gin.Context) {
	var req refundRequest
	// пустое тело = полный возврат
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	queued, err := h.refunds.RequestRefund(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"), refund.RequestInput{
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusAccepted, refundAcceptedResponse{
		RequestID:   queued.RequestID,
		PaymentID:   queued.PaymentID,
		AmountCents: queued.AmountCents,
		Status:      "queued",
	})
}
