package models

import "time"

// Answer is one option of a Question. Retired answers were removed from their
// question while a UserAnswer still pointed at them; they stay in the table for
// audit and are invisible to the question bank.
type Answer struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID uint      `json:"question_id" gorm:"not null;index"`
	Text       string    `json:"text" gorm:"type:text;not null"`
	IsCorrect  bool      `json:"is_correct" gorm:"not null;default:false"`
	Retired    bool      `json:"retired" gorm:"not null;default:false"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
