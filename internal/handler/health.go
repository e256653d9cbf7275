package handler

import (
	"github.com/gin-gonic/gin"

	"kelvin-core/internal/handler/response"
)

// HealthCheck GET /health
func HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{
		"status":  "UP",
		"service": "kelvin-core",
	})
}
