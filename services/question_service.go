package services

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"fishquiz/cache"
	"fishquiz/models"

	"github.com/golang/glog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	CacheAllQuestions    = "allQuestions"
	CacheQuestionByID    = "questionById"
	CacheRandomQuestions = "randomQuestions"
)

type QuestionService struct {
	db      *gorm.DB
	store   cache.Store
	all     *cache.Cache[[]QuestionView]
	byID    *cache.Cache[QuestionView]
	random  *cache.Cache[[]QuestionView]
	shuffle func([]uint)
}

func NewQuestionService(db *gorm.DB, store cache.Store, ttl time.Duration) *QuestionService {
	return &QuestionService{
		db:      db,
		store:   store,
		all:     cache.New[[]QuestionView](store, CacheAllQuestions, ttl),
		byID:    cache.New[QuestionView](store, CacheQuestionByID, ttl),
		random:  cache.New[[]QuestionView](store, CacheRandomQuestions, ttl),
		shuffle: shuffleIDs,
	}
}

func shuffleIDs(ids []uint) {
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}

type AnswerView struct {
	ID         uint   `json:"id"`
	AnswerText string `json:"answerText"`
	IsCorrect  bool   `json:"isCorrect"`
}

type QuestionView struct {
	ID           uint         `json:"id"`
	QuestionText string       `json:"questionText"`
	CategoryID   *uint        `json:"categoryId"`
	CategoryName string       `json:"categoryName"`
	Answers      []AnswerView `json:"answers"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type AnswerInput struct {
	ID         *uint  `json:"id"`
	AnswerText string `json:"answerText" binding:"required"`
	IsCorrect  bool   `json:"isCorrect"`
}

type QuestionInput struct {
	QuestionText string        `json:"questionText" binding:"required"`
	CategoryID   *uint         `json:"categoryId"`
	Answers      []AnswerInput `json:"answers" binding:"required,min=1,dive"`
}

type AddAnswersRequest struct {
	Answers []AnswerInput `json:"answers" binding:"required,min=1,dive"`
}

func toQuestionView(q models.Question) QuestionView {
	view := QuestionView{
		ID:           q.ID,
		QuestionText: q.Text,
		CategoryID:   q.CategoryID,
		CategoryName: models.DefaultCategoryName,
		Answers:      make([]AnswerView, 0, len(q.Answers)),
		CreatedAt:    q.CreatedAt,
		UpdatedAt:    q.UpdatedAt,
	}
	if q.Category != nil {
		view.CategoryName = q.Category.Name
	}
	for _, a := range q.Answers {
		if a.Retired {
			continue
		}
		view.Answers = append(view.Answers, AnswerView{
			ID:         a.ID,
			AnswerText: a.Text,
			IsCorrect:  a.IsCorrect,
		})
	}
	return view
}

// MaskCorrectness returns a copy of views with every answer marked
// incorrect, for clients taking the quiz.
func MaskCorrectness(views []QuestionView) []QuestionView {
	masked := make([]QuestionView, len(views))
	for i, v := range views {
		answers := make([]AnswerView, len(v.Answers))
		for j, a := range v.Answers {
			a.IsCorrect = false
			answers[j] = a
		}
		v.Answers = answers
		masked[i] = v
	}
	return masked
}

// withAnswers preloads the category and the active answers of each question.
func withAnswers(db *gorm.DB) *gorm.DB {
	return db.Preload("Category").
		Preload("Answers", func(db *gorm.DB) *gorm.DB {
			return db.Where("retired = ?", false).Order("answers.id")
		})
}

func (s *QuestionService) GetAll(ctx context.Context) ([]QuestionView, error) {
	return s.all.GetOrLoad(ctx, "all", func(ctx context.Context) ([]QuestionView, error) {
		var questions []models.Question
		if err := withAnswers(s.db.WithContext(ctx)).Order("questions.id").Find(&questions).Error; err != nil {
			return nil, fmt.Errorf("failed to load questions: %w", err)
		}
		views := make([]QuestionView, len(questions))
		for i, q := range questions {
			views[i] = toQuestionView(q)
		}
		return views, nil
	})
}

func (s *QuestionService) GetByID(ctx context.Context, id uint) (QuestionView, error) {
	return s.byID.GetOrLoad(ctx, strconv.FormatUint(uint64(id), 10), func(ctx context.Context) (QuestionView, error) {
		return s.loadView(ctx, s.db, id)
	})
}

func (s *QuestionService) loadView(ctx context.Context, db *gorm.DB, id uint) (QuestionView, error) {
	var q models.Question
	if err := withAnswers(db.WithContext(ctx)).First(&q, id).Error; err != nil {
		return QuestionView{}, notFoundOr(err, "question %d not found", id)
	}
	return toQuestionView(q), nil
}

// GetRandomSample returns min(n, bank size) distinct questions. A sample
// covering the whole bank is the cached bank itself, so sample keys stay
// bounded by the bank size. Otherwise only ids are read to pick the sample;
// the chosen questions are then loaded in one query and returned in sampled
// order.
func (s *QuestionService) GetRandomSample(ctx context.Context, n int) ([]QuestionView, error) {
	if n <= 0 {
		return nil, Validationf("sample size must be positive, got %d", n)
	}
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if n >= len(all) {
		return all, nil
	}
	return s.random.GetOrLoad(ctx, strconv.Itoa(n), func(ctx context.Context) ([]QuestionView, error) {
		var ids []uint
		if err := s.db.WithContext(ctx).Model(&models.Question{}).Order("id").Pluck("id", &ids).Error; err != nil {
			return nil, fmt.Errorf("failed to list question ids: %w", err)
		}
		if n < len(ids) {
			s.shuffle(ids)
			ids = ids[:n]
		}
		if len(ids) == 0 {
			return []QuestionView{}, nil
		}

		var questions []models.Question
		if err := withAnswers(s.db.WithContext(ctx)).Where("id IN ?", ids).Find(&questions).Error; err != nil {
			return nil, fmt.Errorf("failed to load sampled questions: %w", err)
		}
		byID := make(map[uint]models.Question, len(questions))
		for _, q := range questions {
			byID[q.ID] = q
		}
		views := make([]QuestionView, 0, len(ids))
		for _, id := range ids {
			// deleted between the two reads
			if q, ok := byID[id]; ok {
				views = append(views, toQuestionView(q))
			}
		}
		return views, nil
	})
}

func validateAnswers(answers []AnswerInput) error {
	if len(answers) == 0 {
		return Validationf("a question needs at least one answer")
	}
	seen := make(map[uint]struct{})
	for i, a := range answers {
		if strings.TrimSpace(a.AnswerText) == "" {
			return Validationf("answer %d has no text", i+1)
		}
		if a.ID != nil {
			if _, dup := seen[*a.ID]; dup {
				return Validationf("answer id %d appears more than once", *a.ID)
			}
			seen[*a.ID] = struct{}{}
		}
	}
	return nil
}

func countCorrect(answers []AnswerInput) int {
	n := 0
	for _, a := range answers {
		if a.IsCorrect {
			n++
		}
	}
	return n
}

func validateQuestionInput(in *QuestionInput) error {
	if strings.TrimSpace(in.QuestionText) == "" {
		return Validationf("question text is required")
	}
	if err := validateAnswers(in.Answers); err != nil {
		return err
	}
	if n := countCorrect(in.Answers); n != 1 {
		return Validationf("a question needs exactly one correct answer, got %d", n)
	}
	return nil
}

func checkCategory(ctx context.Context, tx *gorm.DB, categoryID *uint) error {
	if categoryID == nil {
		return nil
	}
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Category{}).Where("id = ?", *categoryID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if count == 0 {
		return NotFoundf("category %d not found", *categoryID)
	}
	return nil
}

func (s *QuestionService) Create(ctx context.Context, in *QuestionInput) (QuestionView, error) {
	if err := validateQuestionInput(in); err != nil {
		return QuestionView{}, err
	}

	tx := s.db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := checkCategory(ctx, tx, in.CategoryID); err != nil {
		tx.Rollback()
		return QuestionView{}, err
	}

	question := models.Question{
		Text:       strings.TrimSpace(in.QuestionText),
		CategoryID: in.CategoryID,
	}
	for _, a := range in.Answers {
		question.Answers = append(question.Answers, models.Answer{
			Text:      strings.TrimSpace(a.AnswerText),
			IsCorrect: a.IsCorrect,
		})
	}
	if err := tx.Create(&question).Error; err != nil {
		tx.Rollback()
		return QuestionView{}, fmt.Errorf("failed to create question: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return QuestionView{}, fmt.Errorf("failed to commit question: %w", err)
	}
	s.invalidate(ctx)

	return s.loadView(ctx, s.db, question.ID)
}

// Update replaces the question text and category and reconciles its answers:
// answers whose id matches an active answer are updated in place, the others
// are inserted, and active answers missing from the input are removed. A
// removed answer that some evaluation already selected is retired instead of
// deleted, without error.
func (s *QuestionService) Update(ctx context.Context, id uint, in *QuestionInput) (QuestionView, error) {
	if err := validateQuestionInput(in); err != nil {
		return QuestionView{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question models.Question
		if err := tx.Preload("Answers", "retired = ?", false).First(&question, id).Error; err != nil {
			return notFoundOr(err, "question %d not found", id)
		}
		if err := checkCategory(ctx, tx, in.CategoryID); err != nil {
			return err
		}

		if err := tx.Model(&models.Question{ID: id}).Updates(map[string]interface{}{
			"text":        strings.TrimSpace(in.QuestionText),
			"category_id": in.CategoryID,
		}).Error; err != nil {
			return fmt.Errorf("failed to update question %d: %w", id, err)
		}

		existing := make(map[uint]bool, len(question.Answers))
		for _, a := range question.Answers {
			existing[a.ID] = true
		}
		kept := make(map[uint]bool)
		for _, a := range in.Answers {
			if a.ID != nil && existing[*a.ID] {
				kept[*a.ID] = true
				if err := tx.Model(&models.Answer{ID: *a.ID}).Updates(map[string]interface{}{
					"text":       strings.TrimSpace(a.AnswerText),
					"is_correct": a.IsCorrect,
				}).Error; err != nil {
					return fmt.Errorf("failed to update answer %d: %w", *a.ID, err)
				}
				continue
			}
			answer := models.Answer{
				QuestionID: id,
				Text:       strings.TrimSpace(a.AnswerText),
				IsCorrect:  a.IsCorrect,
			}
			if err := tx.Create(&answer).Error; err != nil {
				return fmt.Errorf("failed to add answer to question %d: %w", id, err)
			}
		}

		var removed []uint
		for _, a := range question.Answers {
			if !kept[a.ID] {
				removed = append(removed, a.ID)
			}
		}
		return removeAnswers(tx, id, removed)
	})
	if err != nil {
		return QuestionView{}, err
	}
	s.invalidate(ctx)

	return s.loadView(ctx, s.db, id)
}

// AddAnswers appends answers to a question. The question must still have
// exactly one correct answer afterwards.
func (s *QuestionService) AddAnswers(ctx context.Context, id uint, answers []AnswerInput) (QuestionView, error) {
	if err := validateAnswers(answers); err != nil {
		return QuestionView{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var question models.Question
		if err := tx.Preload("Answers", "retired = ?", false).First(&question, id).Error; err != nil {
			return notFoundOr(err, "question %d not found", id)
		}

		correct := countCorrect(answers)
		for _, a := range question.Answers {
			if a.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return Validationf("question %d would have %d correct answers, need exactly one", id, correct)
		}

		rows := make([]models.Answer, len(answers))
		for i, a := range answers {
			rows[i] = models.Answer{
				QuestionID: id,
				Text:       strings.TrimSpace(a.AnswerText),
				IsCorrect:  a.IsCorrect,
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to add answers to question %d: %w", id, err)
		}
		return tx.Model(&models.Question{ID: id}).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return QuestionView{}, err
	}
	s.invalidate(ctx)

	return s.loadView(ctx, s.db, id)
}

// AnswersOf lists the active answers of a question.
func (s *QuestionService) AnswersOf(ctx context.Context, questionID uint) ([]AnswerView, error) {
	question, err := s.GetByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	return question.Answers, nil
}

// DeleteAnswer removes one answer from its question, retiring it when an
// evaluation selected it. The correct answer cannot be removed on its own;
// Update moves correctness and drops it in one step.
func (s *QuestionService) DeleteAnswer(ctx context.Context, answerID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var answer models.Answer
		if err := tx.Where("retired = ?", false).First(&answer, answerID).Error; err != nil {
			return notFoundOr(err, "answer %d not found", answerID)
		}
		var question models.Question
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			First(&question, answer.QuestionID).Error; err != nil {
			return notFoundOr(err, "answer %d not found", answerID)
		}
		if answer.IsCorrect {
			return Validationf("answer %d is the correct answer of question %d", answerID, question.ID)
		}

		if err := removeAnswers(tx, question.ID, []uint{answerID}); err != nil {
			return err
		}
		return tx.Model(&models.Question{ID: question.ID}).Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// Delete removes a question and its answers. Answers an evaluation selected
// are retired rather than deleted, and a question with recorded answers is
// soft deleted so the audit rows keep their target.
func (s *QuestionService) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// scoring reads questions FOR SHARE, so no answer can be recorded
		// against this question between the count and the delete.
		var question models.Question
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			First(&question, id).Error; err != nil {
			return notFoundOr(err, "question %d not found", id)
		}

		var references int64
		if err := tx.Model(&models.UserAnswer{}).Where("question_id = ?", id).Count(&references).Error; err != nil {
			return fmt.Errorf("failed to check references to question %d: %w", id, err)
		}

		if references == 0 {
			if err := tx.Where("question_id = ?", id).Delete(&models.Answer{}).Error; err != nil {
				return fmt.Errorf("failed to delete answers of question %d: %w", id, err)
			}
			return tx.Unscoped().Delete(&models.Question{}, id).Error
		}

		var active []uint
		if err := tx.Model(&models.Answer{}).
			Where("question_id = ? AND retired = ?", id, false).
			Pluck("id", &active).Error; err != nil {
			return fmt.Errorf("failed to list answers of question %d: %w", id, err)
		}
		if err := removeAnswers(tx, id, active); err != nil {
			return err
		}
		glog.Infof("question %d has %d recorded answers, soft deleting", id, references)
		return tx.Delete(&models.Question{}, id).Error
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// removeAnswers hard deletes the given answers unless a UserAnswer references
// them, in which case they are retired.
func removeAnswers(tx *gorm.DB, questionID uint, answerIDs []uint) error {
	if len(answerIDs) == 0 {
		return nil
	}

	var referenced []uint
	if err := tx.Model(&models.UserAnswer{}).
		Distinct("answer_id").
		Where("answer_id IN ?", answerIDs).
		Pluck("answer_id", &referenced).Error; err != nil {
		return fmt.Errorf("failed to check answer references: %w", err)
	}
	isReferenced := make(map[uint]bool, len(referenced))
	for _, id := range referenced {
		isReferenced[id] = true
	}

	var unreferenced []uint
	for _, id := range answerIDs {
		if !isReferenced[id] {
			unreferenced = append(unreferenced, id)
		}
	}

	if len(referenced) > 0 {
		if err := tx.Model(&models.Answer{}).
			Where("id IN ?", referenced).
			Updates(map[string]interface{}{"retired": true, "is_correct": false}).Error; err != nil {
			return fmt.Errorf("failed to retire answers: %w", err)
		}
		glog.Infof("question %d: retired answers %v still referenced by evaluations", questionID, referenced)
	}
	if len(unreferenced) > 0 {
		if err := tx.Where("id IN ?", unreferenced).Delete(&models.Answer{}).Error; err != nil {
			return fmt.Errorf("failed to delete answers: %w", err)
		}
	}
	return nil
}

// invalidate empties the three question caches together. It runs after the
// write has committed; a failure leaves entries that expire with their TTL.
func (s *QuestionService) invalidate(ctx context.Context) {
	if err := cache.Invalidate(ctx, s.store, s.all, s.byID, s.random); err != nil {
		glog.Warningf("failed to invalidate question caches: %v", err)
	}
}
