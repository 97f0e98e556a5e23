package mysql

import (
	"context"
	"fmt"

	"consultation-queue-server/internal/models"
)

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return models.User{}, notFound(err, "user")
	}
	return user, nil
}

func (s *Store) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "first_name", "last_name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load user names: %w", err)
	}
	for i := range users {
		names[users[i].ID] = users[i].FullName()
	}
	return names, nil
}
