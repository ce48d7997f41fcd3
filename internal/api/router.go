package api

import (
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/config"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/monitoring"
)

var currencyIDPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// NewRouter builds the read-only HTTP surface: health, metrics, balances and
// ledger listings. All mutations flow through the bot.
func NewRouter(cfg *config.Config, handler *WalletHandler, metrics monitoring.MetricsService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(requestLogger(metrics))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	registerValidations()

	router.GET(cfg.Monitoring.HealthCheckPath, handler.Health)
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.GET("/wallet/:userId/balance", handler.GetBalance)
		api.GET("/wallet/:userId/transactions", handler.ListTransactions)
	}

	return router
}

// registerValidations adds the currencyid rule used by query bindings:
// canonical lowercase coin IDs such as "bitcoin" or "matic-network".
func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("currencyid", func(fl validator.FieldLevel) bool {
			return currencyIDPattern.MatchString(fl.Field().String())
		})
	}
}
