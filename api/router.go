package api

import (
	_ "embed"
	"net/http"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/auth"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/Domenick1991/roombooking/internal/service/refund"
	"github.com/Domenick1991/roombooking/internal/service/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed swagger/roombooking.swagger.json
var swaggerSpec []byte

const swaggerPath = "/swagger/roombooking.swagger.json"

// NewRouter assembles middleware and registers the /v1 routes.
func NewRouter(
	cfg config.HTTPConfig,
	logger logrus.FieldLogger,
	jwtManager *auth.JWTManager,
	roomService rooms.RoomUseCase,
	bookingService booking.BookingUseCase,
	refundService refund.RefundUseCase,
) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	authRequired := auth.Required(jwtManager)

	v1 := r.Group("/v1")
	{
		NewRoomHandler(roomService, logger).Register(v1.Group("/rooms"))
		NewBookingHandler(bookingService, logger).Register(v1.Group("/bookings", authRequired))
		NewPaymentHandler(refundService, logger).Register(v1.Group("/payments", authRequired))
	}

	r.GET(swaggerPath, func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", swaggerSpec)
	})
	r.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL(swaggerPath))))

	return r
}
