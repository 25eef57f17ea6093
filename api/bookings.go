package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/roombooking/internal/auth"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     logrus.FieldLogger
}

type createBookingRequest struct {
	RoomID        string    `json:"room_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	PaymentMethod string    `json:"payment_method"`
}

type bookingResponse struct {
	BookingID     string  `json:"booking_id"`
	RoomID        string  `json:"room_id"`
	RoomName      string  `json:"room_name"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	Status        string  `json:"status"`
	TotalCents    int64   `json:"total_cents"`
	TotalPrice    string  `json:"total_price"`
	Currency      string  `json:"currency"`
	PaymentID     *string `json:"payment_id,omitempty"`
	PaymentStatus string  `json:"payment_status,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func NewBookingHandler(service booking.BookingUseCase, logger logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{service: service, log: logger}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.POST("/:id/cancel", h.cancel)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	created, err := h.service.CreateBooking(c.Request.Context(), auth.IdentityFrom(c), booking.CreateBookingInput{
		RoomID:        req.RoomID,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, toBookingResponse(created))
}

func (h *BookingHandler) list(c *gin.Context) {
	list, err := h.service.ListBookings(c.Request.Context(), auth.IdentityFrom(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	resp := make([]bookingResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toBookingResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.GetBooking(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toBookingResponse(b))
}

// cancel answers 202 while a paid booking waits for its refund.
func (h *BookingHandler) cancel(c *gin.Context) {
	b, err := h.service.CancelBooking(c.Request.Context(), auth.IdentityFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if b.Status != domain.BookingStatusCancelled {
		status = http.StatusAccepted
	}
	c.JSON(status, toBookingResponse(b))
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		BookingID:     b.ID,
		RoomID:        b.RoomID,
		RoomName:      b.RoomName,
		StartTime:     b.StartTime.UTC().Format(time.RFC3339),
		EndTime:       b.EndTime.UTC().Format(time.RFC3339),
		Status:        string(b.Status),
		TotalCents:    b.TotalCents,
		TotalPrice:    fmt.Sprintf("%d.%02d", b.TotalCents/100, b.TotalCents%100),
		Currency:      b.Currency,
		PaymentID:     b.PaymentID,
		PaymentStatus: string(b.PaymentStatus),
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
