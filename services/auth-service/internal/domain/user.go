package domain

import "time"

type User struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string `json:"-"`
	Name         string
	Role         string `gorm:"index"` // STUDENT|TUTOR|ADMIN
	CreatedAt    time.Time
}
