package services

import (
	"context"
	"fmt"

	"fishquiz/models"

	"gorm.io/gorm"
)

// AnswerKey answers "which answer is correct" and "does this answer exist"
// for many questions at once. It always reads the database, never the
// question cache.
type AnswerKey struct {
	db *gorm.DB
}

func NewAnswerKey(db *gorm.DB) *AnswerKey {
	return &AnswerKey{db: db}
}

// WithTx returns a key that reads through tx.
func (k *AnswerKey) WithTx(tx *gorm.DB) *AnswerKey {
	return &AnswerKey{db: tx}
}

// CorrectAnswersFor returns the correct active answer of every question in
// questionIDs. A question with no correct answer, or with more than one, is a
// configuration error.
func (k *AnswerKey) CorrectAnswersFor(ctx context.Context, questionIDs []uint) (map[uint]models.Answer, error) {
	byQuestion, duplicated, err := k.correctAnswers(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	var missing []uint
	for _, id := range uniqueIDs(questionIDs) {
		if _, ok := byQuestion[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, Configurationf("no correct answer configured for questions %v", missing)
	}
	if len(duplicated) > 0 {
		return nil, Configurationf("more than one correct answer configured for questions %v", duplicated)
	}
	return byQuestion, nil
}

// Resolve loads the active answers with the given ids. The first id without a
// match is reported as NotFound.
func (k *AnswerKey) Resolve(ctx context.Context, answerIDs []uint) (map[uint]models.Answer, error) {
	ids := uniqueIDs(answerIDs)
	found := make(map[uint]models.Answer, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var answers []models.Answer
	if err := k.db.WithContext(ctx).
		Where("id IN ? AND retired = ?", ids, false).
		Find(&answers).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve answers: %w", err)
	}
	for _, a := range answers {
		found[a.ID] = a
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, NotFoundf("answer %d not found", id)
		}
	}
	return found, nil
}

// currentKey is the lenient form of CorrectAnswersFor used when rebuilding
// stored results: questions without a usable key are simply absent.
func (k *AnswerKey) currentKey(ctx context.Context, questionIDs []uint) (map[uint]models.Answer, error) {
	byQuestion, duplicated, err := k.correctAnswers(ctx, questionIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range duplicated {
		delete(byQuestion, id)
	}
	return byQuestion, nil
}

func (k *AnswerKey) correctAnswers(ctx context.Context, questionIDs []uint) (map[uint]models.Answer, []uint, error) {
	byQuestion := make(map[uint]models.Answer)
	ids := uniqueIDs(questionIDs)
	if len(ids) == 0 {
		return byQuestion, nil, nil
	}

	var answers []models.Answer
	if err := k.db.WithContext(ctx).
		Where("question_id IN ? AND is_correct = ? AND retired = ?", ids, true, false).
		Order("id").
		Find(&answers).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load answer key: %w", err)
	}

	var duplicated []uint
	for _, a := range answers {
		if _, seen := byQuestion[a.QuestionID]; seen {
			duplicated = append(duplicated, a.QuestionID)
			continue
		}
		byQuestion[a.QuestionID] = a
	}
	return byQuestion, uniqueIDs(duplicated), nil
}

// uniqueIDs drops zero and repeated ids, keeping first-appearance order.
func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
