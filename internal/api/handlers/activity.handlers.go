package routes

import (
	"log"
	"time"

	"gridrun/internal/service/conquest"
	"gridrun/internal/service/territory"

	"github.com/gin-gonic/gin"
)

// SetupActivityHandlers registers the activity ingestion endpoints
func SetupActivityHandlers(router *gin.RouterGroup) {
	activityGroup := router.Group("/activities")

	activityGroup.POST("", IngestActivity)
	activityGroup.POST("/sync", SyncActivities)
	activityGroup.GET("/:id", GetActivity)

	router.GET("/users/:id/stats", GetUserStats)
}

type ingestRequest struct {
	UserID    string    `json:"user_id" binding:"required"`
	Name      string    `json:"name"`
	Polyline  string    `json:"polyline"`
	StartedAt time.Time `json:"started_at"`
}

// IngestActivity stores one uploaded run. The trace is claimed later by the
// sync worker, or immediately via the sync endpoint.
func IngestActivity(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"status": "error", "message": err.Error()})
		return
	}

	activity, err := territory.GetTerritoryService().IngestActivity(
		c.Request.Context(), req.UserID, req.Name, req.Polyline, req.StartedAt)
	if err != nil {
		c.JSON(500, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(201, gin.H{"status": "success", "activity": activity})
}

// SyncActivities processes all pending activities right away and returns the
// per-activity results. A run that closed no loop comes back with empty cell
// lists, which is distinct from a processing error.
func SyncActivities(c *gin.Context) {
	ctx := c.Request.Context()

	results := territory.GetTerritoryService().ProcessPending(ctx, 100)

	for _, result := range results {
		if len(result.Transfers) > 0 {
			conquest.GetConquestService().NotifyConquests(ctx, result.UserID, result.Transfers)
		}
	}

	if err := territory.GetQueryService().RefreshLoopIndex(ctx); err != nil {
		log.Printf("sync: loop index refresh failed: %v", err)
	}

	c.JSON(200, gin.H{"status": "success", "results": results, "count": len(results)})
}

// GetActivity returns one activity and, when the run closed into a loop, the
// cached loop ring for display.
func GetActivity(c *gin.Context) {
	activity, err := territory.GetTerritoryService().GetActivity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(500, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if activity == nil {
		c.JSON(404, gin.H{"status": "error", "message": "activity not found"})
		return
	}

	body := gin.H{"status": "success", "activity": activity}
	if activity.HasLoop() {
		body["loop"] = territory.DecodeRing(activity.LoopGeometry)
	}
	c.JSON(200, body)
}

// GetUserStats returns a user's current holdings.
func GetUserStats(c *gin.Context) {
	count, err := territory.GetQueryService().OwnedCellCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(500, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "success", "user_id": c.Param("id"), "owned_cells": count})
}
