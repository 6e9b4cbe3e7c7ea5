package models

import "time"

type EvaluationStatus string

const (
	EvaluationPending   EvaluationStatus = "PENDING"
	EvaluationCompleted EvaluationStatus = "COMPLETED"
	EvaluationFailed    EvaluationStatus = "FAILED"
)

func (s EvaluationStatus) Valid() bool {
	switch s {
	case EvaluationPending, EvaluationCompleted, EvaluationFailed:
		return true
	}
	return false
}

type Evaluation struct {
	ID             uint             `json:"id" gorm:"primaryKey"`
	UserID         uint             `json:"user_id" gorm:"not null;index"`
	Score          float64          `json:"score" gorm:"type:numeric(3,1);not null;default:0"`
	Status         EvaluationStatus `json:"status" gorm:"size:16;not null;default:'PENDING'"`
	CorrectAnswers int              `json:"correct_answers" gorm:"not null;default:0"`
	TotalQuestions int              `json:"total_questions" gorm:"not null;default:0"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`

	// Relationships
	UserAnswers []UserAnswer `json:"user_answers,omitempty" gorm:"foreignKey:EvaluationID"`
}
