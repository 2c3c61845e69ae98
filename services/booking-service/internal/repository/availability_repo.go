package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/you/tutorspool/services/booking-service/internal/domain"
)

type AvailabilityRepo struct{ db *gorm.DB }

func NewAvailabilityRepo(db *gorm.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) BlocksFor(ctx context.Context, tutorID string) ([]domain.AvailabilityBlock, error) {
	var out []domain.AvailabilityBlock
	err := r.db.WithContext(ctx).
		Where("tutor_id = ?", tutorID).
		Order("day_of_week ASC, start_minute ASC").
		Find(&out).Error
	return out, err
}

// ReplaceBlocks swaps the tutor's whole weekly schedule in one transaction.
func (r *AvailabilityRepo) ReplaceBlocks(ctx context.Context, tutorID string, blocks []domain.AvailabilityBlock) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tutor_id = ?", tutorID).Delete(&domain.AvailabilityBlock{}).Error; err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}
		for i := range blocks {
			blocks[i].TutorID = tutorID
			if blocks[i].ID == "" {
				blocks[i].ID = uuid.NewString()
			}
		}
		return tx.Create(&blocks).Error
	})
}
