package api

import (
	routes "gridrun/internal/api/handlers"

	"github.com/gin-gonic/gin"
)

// SetupRouter initializes all application routes
func SetupRouter(r *gin.Engine) {
	// API group
	api := r.Group("/api")

	// Setup main handlers
	routes.SetupMainHandlers(r.Group(""))

	// Setup territory and activity handlers
	routes.SetupTerritoryHandlers(api)
	routes.SetupActivityHandlers(api)
}
