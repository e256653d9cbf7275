package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kelvin-core/internal/handler"
	"kelvin-core/pkg/monitor"
	"kelvin-core/pkg/validator"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h *handler.CurrencyHandler) (*gin.Engine, error) {
	if err := validator.Init(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(monitor.PrometheusMiddleware())

	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/journal", h.Journal)

		currencies := api.Group("/currencies")
		currencies.GET("", h.ListCurrencies)

		cur := currencies.Group("/:currency")
		{
			cur.GET("", h.GetCurrency)
			cur.GET("/amount/:amount", h.ValidateAmount)
			cur.POST("/convert", h.Convert)
			cur.POST("/prepare", h.Prepare)
			cur.POST("/finalize", h.Finalize)
			cur.POST("/signhash/signature", h.SignHashSignature)
		}

		network := cur.Group("/networks/:network")
		{
			network.GET("/address/:address", h.ValidateAddress)
			network.GET("/balance/:address", h.Balance)
			network.GET("/history/:address", h.History)
			network.GET("/fees", h.Fees)
			network.POST("/derive", h.Derive)
			network.POST("/broadcast", h.Broadcast)
			network.POST("/signhash", h.SignHash)
		}
	}
	return r, nil
}
