package model

import (
	"time"

	"gorm.io/gorm"
)

// User carries the display identity referenced by claims and conquest
// notifications. Authentication lives outside this service.
type User struct {
	ID          string `json:"id" gorm:"primaryKey;size:64"`
	DisplayName string `json:"display_name" gorm:"size:255;not null"`

	CreatedAt time.Time      `json:"-" gorm:"column:created_at"`
	UpdatedAt time.Time      `json:"-" gorm:"column:updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

// Friendship is one directed edge of the friend graph. A relationship is
// mutual when both directions exist.
type Friendship struct {
	UserID   string `json:"user_id" gorm:"primaryKey;size:64"`
	FriendID string `json:"friend_id" gorm:"primaryKey;size:64"`

	CreatedAt time.Time `json:"-" gorm:"column:created_at"`
}

// TableName overrides the table name
func (Friendship) TableName() string {
	return "friendships"
}
