package routes

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"gridrun/internal/config"
	redis_client "gridrun/internal/redis"
	"gridrun/internal/service/territory"

	"github.com/gin-gonic/gin"
)

// SetupTerritoryHandlers registers the territory read endpoints
func SetupTerritoryHandlers(router *gin.RouterGroup) {
	territoryGroup := router.Group("/territory")

	territoryGroup.GET("/cells", GetCellsInViewport)
	territoryGroup.GET("/cells/:key/polygon", GetCellPolygon)
	territoryGroup.GET("/loops", GetLoopsInViewport)
}

type viewport struct {
	MinLng float64
	MinLat float64
	MaxLng float64
	MaxLat float64
}

func parseViewport(c *gin.Context) (viewport, bool) {
	var vp viewport
	var err error

	parse := func(name string, dst *float64) {
		if err != nil {
			return
		}
		*dst, err = strconv.ParseFloat(c.Query(name), 64)
		if err != nil {
			err = fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	parse("minLng", &vp.MinLng)
	parse("minLat", &vp.MinLat)
	parse("maxLng", &vp.MaxLng)
	parse("maxLat", &vp.MaxLat)

	if err != nil {
		c.JSON(400, gin.H{"status": "error", "message": err.Error()})
		return vp, false
	}
	return vp, true
}

// GetCellsInViewport serves the territory cells inside a geographic bbox,
// filtered by scope (mine, friends, everyone). Responses are cached briefly
// in Redis keyed by the full query.
func GetCellsInViewport(c *gin.Context) {
	vp, ok := parseViewport(c)
	if !ok {
		return
	}
	scope := c.DefaultQuery("scope", "everyone")
	userID := c.Query("user")

	cacheKey := fmt.Sprintf("viewport:cells:%s:%s:%g:%g:%g:%g",
		scope, userID, vp.MinLng, vp.MinLat, vp.MaxLng, vp.MaxLat)
	if cached, err := redis_client.Get(cacheKey); err == nil {
		c.Data(200, "application/json", []byte(cached))
		return
	} else if !redis_client.IsNil(err) {
		log.Printf("viewport cache read failed: %v", err)
	}

	cells, err := territory.GetQueryService().CellsInViewport(
		c.Request.Context(), vp.MinLng, vp.MinLat, vp.MaxLng, vp.MaxLat, scope, userID)
	if err != nil {
		c.JSON(500, gin.H{"status": "error", "message": err.Error()})
		return
	}

	body := gin.H{"status": "success", "cells": cells, "count": len(cells)}
	if payload, err := json.Marshal(body); err == nil {
		if err := redis_client.Set(cacheKey, payload, config.ViewportCacheTTL); err != nil {
			log.Printf("viewport cache write failed: %v", err)
		}
	}
	c.JSON(200, body)
}

// GetCellPolygon renders one cell key as its geographic square ring.
func GetCellPolygon(c *gin.Context) {
	ring, err := territory.GetQueryService().CellPolygonRing(c.Param("key"))
	if err != nil {
		c.JSON(400, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(200, gin.H{"status": "success", "ring": ring})
}

// GetLoopsInViewport serves the cached loop polygons intersecting a bbox.
func GetLoopsInViewport(c *gin.Context) {
	vp, ok := parseViewport(c)
	if !ok {
		return
	}

	loops := territory.GetQueryService().LoopsInViewport(vp.MinLng, vp.MinLat, vp.MaxLng, vp.MaxLat)
	c.JSON(200, gin.H{"status": "success", "loops": loops, "count": len(loops)})
}
