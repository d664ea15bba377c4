package social

import (
	"context"
	"errors"
	"log"
	"sync"

	"gridrun/internal/model"
	pg "gridrun/internal/postgres"

	"gorm.io/gorm"
)

// SocialService answers the two questions the capture engine asks about the
// friend graph: who are a user's friends, and is a given pair mutual. The
// graph itself is maintained by an external collaborator.
type SocialService struct {
	initMutex sync.RWMutex
}

var (
	socialServiceInstance *SocialService
	socialServiceOnce     sync.Once
)

// GetSocialService returns the singleton instance of the SocialService.
func GetSocialService() *SocialService {
	socialServiceOnce.Do(func() {
		socialServiceInstance = &SocialService{}
	})
	return socialServiceInstance
}

// FriendsOf returns the IDs a user follows that follow them back.
func (s *SocialService) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	db := pg.GetDB()

	var ids []string
	result := db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id IN (?)",
			userID,
			db.Model(&model.Friendship{}).Select("user_id").Where("friend_id = ?", userID),
		).
		Pluck("friend_id", &ids)
	if result.Error != nil {
		return nil, result.Error
	}
	return ids, nil
}

// AreMutualFriends reports whether both directed edges exist between a and b.
func (s *SocialService) AreMutualFriends(ctx context.Context, a, b string) (bool, error) {
	db := pg.GetDB()

	var count int64
	result := db.WithContext(ctx).
		Model(&model.Friendship{}).
		Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count == 2, nil
}

// DisplayName resolves a user's display name, empty when unknown.
func (s *SocialService) DisplayName(ctx context.Context, userID string) (string, error) {
	db := pg.GetDB()

	var user model.User
	result := db.WithContext(ctx).First(&user, "id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			log.Printf("social: display name requested for unknown user %s", userID)
			return "", nil
		}
		return "", result.Error
	}
	return user.DisplayName, nil
}
