package models

import "time"

// UserAnswer is the append-only audit row of one scored pick.
type UserAnswer struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	EvaluationID uint      `json:"evaluation_id" gorm:"not null;index"`
	QuestionID   uint      `json:"question_id" gorm:"not null;index"`
	AnswerID     uint      `json:"answer_id" gorm:"not null;index"`
	IsCorrect    bool      `json:"is_correct" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
}
