package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fishquiz/models"

	"github.com/golang/glog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EvaluationService struct {
	db       *gorm.DB
	key      *AnswerKey
	policy   DuplicatePolicy
	notifier Notifier
}

func NewEvaluationService(db *gorm.DB, key *AnswerKey, policy DuplicatePolicy, notifier Notifier) *EvaluationService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &EvaluationService{
		db:       db,
		key:      key,
		policy:   policy,
		notifier: notifier,
	}
}

type Submission struct {
	QuestionID uint `json:"questionId"`
	AnswerID   uint `json:"answerId"`
}

type EvaluateRequest struct {
	UserID      uint         `json:"userId" binding:"required"`
	UserAnswers []Submission `json:"userAnswers" binding:"required"`
}

type UpdateEvaluationRequest struct {
	Score  *float64 `json:"score"`
	Status *string  `json:"status"`
}

type AnswerResult struct {
	QuestionID        uint   `json:"questionId"`
	SelectedAnswerID  uint   `json:"selectedAnswerId"`
	CorrectAnswerID   uint   `json:"correctAnswerId"`
	CorrectAnswerText string `json:"correctAnswerText"`
	Correct           bool   `json:"correct"`
}

type EvaluationView struct {
	ID             uint                    `json:"id"`
	UserID         uint                    `json:"userId"`
	Score          float64                 `json:"score"`
	Status         models.EvaluationStatus `json:"status"`
	CorrectAnswers int                     `json:"correctAnswers"`
	TotalQuestions int                     `json:"totalQuestions"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
	Results        []AnswerResult          `json:"results"`
}

func toEvaluationView(ev *models.Evaluation, results []AnswerResult) EvaluationView {
	if results == nil {
		results = []AnswerResult{}
	}
	return EvaluationView{
		ID:             ev.ID,
		UserID:         ev.UserID,
		Score:          ev.Score,
		Status:         ev.Status,
		CorrectAnswers: ev.CorrectAnswers,
		TotalQuestions: ev.TotalQuestions,
		CreatedAt:      ev.CreatedAt,
		UpdatedAt:      ev.UpdatedAt,
		Results:        results,
	}
}

// Evaluate records and scores one submission. The evaluation row is written
// PENDING in its own commit so every attempt leaves a trace; scoring then runs
// in a single transaction and either completes it or changes nothing.
func (s *EvaluationService) Evaluate(ctx context.Context, userID uint, submissions []Submission) (EvaluationView, error) {
	if userID == 0 {
		return EvaluationView{}, Validationf("userId is required")
	}
	if len(submissions) == 0 {
		return EvaluationView{}, Validationf("at least one answer must be submitted")
	}
	for i, sub := range submissions {
		if sub.QuestionID == 0 || sub.AnswerID == 0 {
			return EvaluationView{}, Validationf("answer %d: questionId and answerId are required", i+1)
		}
	}

	evaluation := models.Evaluation{
		UserID: userID,
		Status: models.EvaluationPending,
	}
	if err := s.db.WithContext(ctx).Create(&evaluation).Error; err != nil {
		return EvaluationView{}, fmt.Errorf("failed to record evaluation: %w", err)
	}

	var results []AnswerResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		results, err = s.score(ctx, tx, &evaluation, submissions)
		return err
	})
	if err != nil {
		glog.Warningf("evaluation %d for user %d left PENDING: %v", evaluation.ID, userID, err)
		return EvaluationView{}, err
	}

	glog.Infof("evaluation %d for user %d scored %.1f (%s)", evaluation.ID, userID, evaluation.Score, evaluation.Status)
	view := toEvaluationView(&evaluation, results)
	s.notifier.Publish(EventEvaluationCompleted, view)
	return view, nil
}

// score validates the submission against the stored bank, writes the
// UserAnswer rows and finalises evaluation. Validation order: unknown
// questions, then unknown answers, then answers of another question, then
// questions without a usable answer key.
func (s *EvaluationService) score(ctx context.Context, tx *gorm.DB, evaluation *models.Evaluation, submissions []Submission) ([]AnswerResult, error) {
	pairs := dedupe(submissions, s.policy)
	questionIDs := make([]uint, len(pairs))
	answerIDs := make([]uint, len(pairs))
	for i, p := range pairs {
		questionIDs[i] = p.QuestionID
		answerIDs[i] = p.AnswerID
	}

	var questions []models.Question
	if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).
		Preload("Category").
		Where("id IN ?", questionIDs).
		Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	known := make(map[uint]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	for _, p := range pairs {
		if !known[p.QuestionID] {
			return nil, NotFoundf("question %d not found", p.QuestionID)
		}
	}

	key := s.key.WithTx(tx)
	selected, err := key.Resolve(ctx, answerIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if a := selected[p.AnswerID]; a.QuestionID != p.QuestionID {
			return nil, Validationf("answer %d does not belong to question %d", p.AnswerID, p.QuestionID)
		}
	}

	correctByQuestion, err := key.CorrectAnswersFor(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	rows := make([]models.UserAnswer, len(pairs))
	results := make([]AnswerResult, len(pairs))
	correct := 0
	for i, p := range pairs {
		want := correctByQuestion[p.QuestionID]
		ok := p.AnswerID == want.ID
		if ok {
			correct++
		}
		rows[i] = models.UserAnswer{
			EvaluationID: evaluation.ID,
			QuestionID:   p.QuestionID,
			AnswerID:     p.AnswerID,
			IsCorrect:    ok,
		}
		results[i] = AnswerResult{
			QuestionID:        p.QuestionID,
			SelectedAnswerID:  p.AnswerID,
			CorrectAnswerID:   want.ID,
			CorrectAnswerText: want.Text,
			Correct:           ok,
		}
	}
	if err := tx.Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to record answers: %w", err)
	}

	score := ComputeScore(correct, len(pairs))
	evaluation.Score = score.InexactFloat64()
	evaluation.Status = StatusForScore(score)
	evaluation.CorrectAnswers = correct
	evaluation.TotalQuestions = len(pairs)
	evaluation.UpdatedAt = time.Now()
	if err := tx.Model(evaluation).
		Select("score", "status", "correct_answers", "total_questions", "updated_at").
		Updates(evaluation).Error; err != nil {
		return nil, fmt.Errorf("failed to finalise evaluation %d: %w", evaluation.ID, err)
	}
	return results, nil
}

// GetByID rebuilds the results from the stored answers and the answer key as
// it is in the database now.
func (s *EvaluationService) GetByID(ctx context.Context, id uint) (EvaluationView, error) {
	var evaluation models.Evaluation
	if err := s.db.WithContext(ctx).
		Preload("UserAnswers", func(db *gorm.DB) *gorm.DB {
			return db.Order("user_answers.id")
		}).
		First(&evaluation, id).Error; err != nil {
		return EvaluationView{}, notFoundOr(err, "evaluation %d not found", id)
	}

	views, err := s.rebuild(ctx, []models.Evaluation{evaluation})
	if err != nil {
		return EvaluationView{}, err
	}
	return views[0], nil
}

func (s *EvaluationService) ListByUser(ctx context.Context, userID uint) ([]EvaluationView, error) {
	var evaluations []models.Evaluation
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("UserAnswers", func(db *gorm.DB) *gorm.DB {
			return db.Order("user_answers.id")
		}).
		Order("created_at DESC, id DESC").
		Find(&evaluations).Error; err != nil {
		return nil, fmt.Errorf("failed to list evaluations of user %d: %w", userID, err)
	}
	return s.rebuild(ctx, evaluations)
}

func (s *EvaluationService) rebuild(ctx context.Context, evaluations []models.Evaluation) ([]EvaluationView, error) {
	var questionIDs []uint
	for _, ev := range evaluations {
		for _, ua := range ev.UserAnswers {
			questionIDs = append(questionIDs, ua.QuestionID)
		}
	}
	key, err := s.key.currentKey(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	views := make([]EvaluationView, len(evaluations))
	for i := range evaluations {
		ev := &evaluations[i]
		results := make([]AnswerResult, len(ev.UserAnswers))
		for j, ua := range ev.UserAnswers {
			want := key[ua.QuestionID]
			results[j] = AnswerResult{
				QuestionID:        ua.QuestionID,
				SelectedAnswerID:  ua.AnswerID,
				CorrectAnswerID:   want.ID,
				CorrectAnswerText: want.Text,
				Correct:           ua.IsCorrect,
			}
		}
		views[i] = toEvaluationView(ev, results)
	}
	return views, nil
}

// Update is the administrative override of score and status.
func (s *EvaluationService) Update(ctx context.Context, id uint, req *UpdateEvaluationRequest) (EvaluationView, error) {
	updates := make(map[string]interface{})
	if req.Score != nil {
		if *req.Score < 0 || *req.Score > MaxScore {
			return EvaluationView{}, Validationf("score must be between 0 and %d, got %v", MaxScore, *req.Score)
		}
		updates["score"] = decimal.NewFromFloat(*req.Score).Round(1).InexactFloat64()
	}
	if req.Status != nil {
		status := models.EvaluationStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if !status.Valid() {
			return EvaluationView{}, Validationf("unknown evaluation status %q", *req.Status)
		}
		updates["status"] = status
	}
	if len(updates) == 0 {
		return EvaluationView{}, Validationf("nothing to update")
	}

	result := s.db.WithContext(ctx).Model(&models.Evaluation{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return EvaluationView{}, fmt.Errorf("failed to update evaluation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return EvaluationView{}, NotFoundf("evaluation %d not found", id)
	}
	glog.Infof("evaluation %d overwritten: %v", id, updates)

	return s.GetByID(ctx, id)
}

// Delete removes an evaluation and its answers. An evaluation a certificate
// was issued for cannot be deleted.
func (s *EvaluationService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Generate reads this row FOR SHARE, so no certificate can be
		// issued between the count and the delete.
		var evaluation models.Evaluation
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			First(&evaluation, id).Error; err != nil {
			return notFoundOr(err, "evaluation %d not found", id)
		}

		var certificates int64
		if err := tx.Model(&models.Certificate{}).Where("evaluation_id = ?", id).Count(&certificates).Error; err != nil {
			return fmt.Errorf("failed to check certificates of evaluation %d: %w", id, err)
		}
		if certificates > 0 {
			return Conflictf("evaluation %d has an issued certificate", id)
		}

		if err := tx.Where("evaluation_id = ?", id).Delete(&models.UserAnswer{}).Error; err != nil {
			return fmt.Errorf("failed to delete answers of evaluation %d: %w", id, err)
		}
		return tx.Delete(&models.Evaluation{}, id).Error
	})
}
