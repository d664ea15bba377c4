package model

import (
	"time"

	"gorm.io/gorm"
)

// Activity is one ingested run. The engine reads the encoded polyline once
// and caches the derived loop ring and its bounding box on the row, so later
// viewport queries never re-decode the polyline.
type Activity struct {
	ID             string  `json:"id" gorm:"primaryKey;size:64"`
	UserID         string  `json:"user_id" gorm:"size:64;not null;index"`
	Name           string  `json:"name" gorm:"size:255"`
	Polyline       string  `json:"-" gorm:"type:text"`
	DistanceMeters float64 `json:"distance_meters"`
	Processed      bool    `json:"processed" gorm:"not null;default:false;index"`

	// Loop cache, written once on successful rasterization. LoopGeometry is
	// the closed [lng, lat] ring encoded as a polyline (lat/lng swapped back
	// for encoding); empty when the run did not close into a loop.
	LoopGeometry string  `json:"-" gorm:"type:text"`
	MinLng       float64 `json:"min_lng"`
	MinLat       float64 `json:"min_lat"`
	MaxLng       float64 `json:"max_lng"`
	MaxLat       float64 `json:"max_lat"`

	StartedAt time.Time      `json:"started_at"`
	CreatedAt time.Time      `json:"-" gorm:"column:created_at"`
	UpdatedAt time.Time      `json:"-" gorm:"column:updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

// TableName overrides the table name
func (Activity) TableName() string {
	return "activities"
}

// HasLoop reports whether the activity produced a cached loop polygon.
func (a *Activity) HasLoop() bool {
	return a.LoopGeometry != ""
}
