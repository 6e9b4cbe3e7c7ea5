package models

import "time"

type Certificate struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_certificate_user_evaluation;index"`
	EvaluationID uint      `json:"evaluation_id" gorm:"not null;uniqueIndex:idx_certificate_user_evaluation"`
	Code         string    `json:"certificate_code" gorm:"size:64;uniqueIndex;not null"`
	IssuedAt     time.Time `json:"issued_at" gorm:"not null"`
}
