package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/service/rooms"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RoomHandler struct {
	service rooms.RoomUseCase
	log     logrus.FieldLogger
}

type roomResponse struct {
	RoomID          string `json:"room_id"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	Capacity        int    `json:"capacity"`
	Description     string `json:"description,omitempty"`
	HourlyRateCents int64  `json:"hourly_rate_cents"`
	Currency        string `json:"currency"`
	ImageURL        string `json:"image_url,omitempty"`
	Available       *bool  `json:"available,omitempty"`
}

func NewRoomHandler(service rooms.RoomUseCase, logger logrus.FieldLogger) *RoomHandler {
	return &RoomHandler{service: service, log: logger}
}

func (h *RoomHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
	router.GET("/:id", h.get)
}

func (h *RoomHandler) list(c *gin.Context) {
	filter, err := parseRoomFilter(c)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	views, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	resp := make([]roomResponse, 0, len(views))
	for _, v := range views {
		r := toRoomResponse(v.Room)
		r.Available = v.Available
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RoomHandler) get(c *gin.Context) {
	room, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(*room))
}

func parseRoomFilter(c *gin.Context) (domain.RoomFilter, error) {
	var filter domain.RoomFilter

	if raw := c.Query("min_capacity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("%w: min_capacity must be a non-negative integer", domain.ErrValidation)
		}
		filter.MinCapacity = n
	}
	filter.Location = c.Query("location")

	for name, dst := range map[string]**time.Time{"start_time": &filter.StartTime, "end_time": &filter.EndTime} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be RFC 3339", domain.ErrValidation, name)
		}
		*dst = &t
	}
	return filter, nil
}

func toRoomResponse(r domain.Room) roomResponse {
	return roomResponse{
		RoomID:          r.ID,
		Name:            r.Name,
		Location:        r.Location,
		Capacity:        r.Capacity,
		Description:     r.Description,
		HourlyRateCents: r.HourlyRateCents,
		Currency:        r.Currency,
		ImageURL:        r.ImageURL,
	}
}
