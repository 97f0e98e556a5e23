package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"consultation-queue-server/internal/models"
)

func (s *Store) GetSettings(ctx context.Context, doctorID string) (*models.DoctorSettings, error) {
	var settings models.DoctorSettings
	err := s.db.WithContext(ctx).First(&settings, "doctor_id = ?", doctorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load doctor settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings models.DoctorSettings) (models.DoctorSettings, error) {
	settings.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&settings).Error
	if err != nil {
		return models.DoctorSettings{}, fmt.Errorf("save doctor settings: %w", err)
	}
	return settings, nil
}

func (s *Store) AddUnavailability(ctx context.Context, window models.DoctorUnavailability) (models.DoctorUnavailability, error) {
	window.StartTime = window.StartTime.UTC()
	window.EndTime = window.EndTime.UTC()
	if err := s.db.WithContext(ctx).Create(&window).Error; err != nil {
		return models.DoctorUnavailability{}, fmt.Errorf("add unavailability: %w", err)
	}
	return window, nil
}

func (s *Store) ListUnavailability(ctx context.Context, doctorID string, from, to time.Time) ([]models.DoctorUnavailability, error) {
	var windows []models.DoctorUnavailability
	err := s.db.WithContext(ctx).
		Where("doctor_id = ? AND start_time < ? AND end_time > ?", doctorID, to.UTC(), from.UTC()).
		Order("start_time asc").
		Find(&windows).Error
	if err != nil {
		return nil, fmt.Errorf("list unavailability: %w", err)
	}
	return windows, nil
}
