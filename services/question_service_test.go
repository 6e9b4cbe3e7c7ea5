package services

import (
	"context"
	"strconv"
	"testing"
	"time"

	"fishquiz/cache"
	"fishquiz/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T {
	return &v
}

func sampleInput(text string) *QuestionInput {
	return &QuestionInput{
		QuestionText: text,
		Answers: []AnswerInput{
			{AnswerText: "clear and bulging", IsCorrect: true},
			{AnswerText: "cloudy and sunken"},
		},
	}
}

func questionIDs(views []QuestionView) []uint {
	ids := make([]uint, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func TestCreateQuestionValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestQuestionService(t, newTestDB(t))

	tests := []struct {
		name  string
		input *QuestionInput
		check func(error) bool
	}{
		{
			name:  "blank text",
			input: &QuestionInput{QuestionText: "  ", Answers: []AnswerInput{{AnswerText: "a", IsCorrect: true}}},
			check: IsValidation,
		},
		{
			name:  "no answers",
			input: &QuestionInput{QuestionText: "Smell?"},
			check: IsValidation,
		},
		{
			name: "no correct answer",
			input: &QuestionInput{QuestionText: "Smell?", Answers: []AnswerInput{
				{AnswerText: "sea"}, {AnswerText: "ammonia"},
			}},
			check: IsValidation,
		},
		{
			name: "two correct answers",
			input: &QuestionInput{QuestionText: "Smell?", Answers: []AnswerInput{
				{AnswerText: "sea", IsCorrect: true}, {AnswerText: "fresh", IsCorrect: true},
			}},
			check: IsValidation,
		},
		{
			name: "blank answer",
			input: &QuestionInput{QuestionText: "Smell?", Answers: []AnswerInput{
				{AnswerText: "sea", IsCorrect: true}, {AnswerText: " "},
			}},
			check: IsValidation,
		},
		{
			name: "unknown category",
			input: &QuestionInput{QuestionText: "Smell?", CategoryID: ptr(uint(42)), Answers: []AnswerInput{
				{AnswerText: "sea", IsCorrect: true},
			}},
			check: IsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateQuestionWithCategory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := newTestQuestionService(t, db)
	categories := NewCategoryService(db)

	category, err := categories.Create(ctx, &CategoryRequest{Name: "Eyes"})
	require.NoError(t, err)

	in := sampleInput("How do fresh eyes look?")
	in.CategoryID = &category.ID
	view, err := svc.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "Eyes", view.CategoryName)
	require.Len(t, view.Answers, 2)
	assert.True(t, view.Answers[0].IsCorrect)

	uncategorized, err := svc.Create(ctx, sampleInput("Any category?"))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCategoryName, uncategorized.CategoryName)
	assert.Nil(t, uncategorized.CategoryID)
}

func TestGetByIDNotFound(t *testing.T) {
	svc := newTestQuestionService(t, newTestDB(t))

	_, err := svc.GetByID(context.Background(), 12345)
	assert.True(t, IsNotFound(err), "got %v", err)
}

// Every write must be visible to all three cached reads.
func TestQuestionCacheCoherency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stores := map[string]cache.Store{
		"memory": cache.NewMemoryStore(),
		"redis":  cache.NewRedisStore(client, "coherency"),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := newTestDB(t)
			bank := seedBank(t, db, 3)
			svc := NewQuestionService(db, store, time.Minute)
			target := bank[1].ID

			warm := func() {
				_, err := svc.GetAll(ctx)
				require.NoError(t, err)
				_, err = svc.GetByID(ctx, target)
				require.NoError(t, err)
				_, err = svc.GetRandomSample(ctx, 100)
				require.NoError(t, err)
			}

			// create
			warm()
			created, err := svc.Create(ctx, sampleInput("Is the flesh firm?"))
			require.NoError(t, err)

			all, err := svc.GetAll(ctx)
			require.NoError(t, err)
			assert.Contains(t, questionIDs(all), created.ID)
			sample, err := svc.GetRandomSample(ctx, 100)
			require.NoError(t, err)
			assert.Contains(t, questionIDs(sample), created.ID)

			// update
			warm()
			in := sampleInput("Are the gills dark red?")
			_, err = svc.Update(ctx, target, in)
			require.NoError(t, err)

			got, err := svc.GetByID(ctx, target)
			require.NoError(t, err)
			assert.Equal(t, "Are the gills dark red?", got.QuestionText)
			all, err = svc.GetAll(ctx)
			require.NoError(t, err)
			for _, q := range all {
				if q.ID == target {
					assert.Equal(t, "Are the gills dark red?", q.QuestionText)
				}
			}
			sample, err = svc.GetRandomSample(ctx, 100)
			require.NoError(t, err)
			for _, q := range sample {
				if q.ID == target {
					assert.Equal(t, "Are the gills dark red?", q.QuestionText)
				}
			}

			// delete
			warm()
			require.NoError(t, svc.Delete(ctx, target))

			_, err = svc.GetByID(ctx, target)
			assert.True(t, IsNotFound(err), "got %v", err)
			all, err = svc.GetAll(ctx)
			require.NoError(t, err)
			assert.NotContains(t, questionIDs(all), target)
			sample, err = svc.GetRandomSample(ctx, 100)
			require.NoError(t, err)
			assert.NotContains(t, questionIDs(sample), target)
			assert.Len(t, sample, 3)
		})
	}
}

func TestGetRandomSample(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 10)
	svc := newTestQuestionService(t, db)

	var bankIDs []uint
	for _, q := range bank {
		bankIDs = append(bankIDs, q.ID)
	}

	t.Run("smaller than bank", func(t *testing.T) {
		sample, err := svc.GetRandomSample(ctx, 4)
		require.NoError(t, err)
		require.Len(t, sample, 4)

		seen := make(map[uint]bool)
		for _, q := range sample {
			assert.False(t, seen[q.ID], "question %d sampled twice", q.ID)
			seen[q.ID] = true
			assert.Contains(t, bankIDs, q.ID)
			assert.Len(t, q.Answers, 3)
		}
	})

	for _, n := range []int{10, 11, 500} {
		sample, err := svc.GetRandomSample(ctx, n)
		require.NoError(t, err)
		assert.ElementsMatch(t, bankIDs, questionIDs(sample), "n=%d", n)
	}

	for _, n := range []int{0, -3} {
		_, err := svc.GetRandomSample(ctx, n)
		assert.True(t, IsValidation(err), "n=%d: got %v", n, err)
	}
}

func TestGetRandomSampleSharesWholeBankEntry(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedBank(t, db, 3)
	svc := newTestQuestionService(t, db)

	first, err := svc.GetRandomSample(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, first, 3)

	// written behind the service's back, so only a fresh load would see it
	require.NoError(t, db.Create(&models.Question{Text: "Is the eye clear?"}).Error)

	for _, n := range []int{3, 2000, 5000} {
		sample, err := svc.GetRandomSample(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, questionIDs(first), questionIDs(sample), "n=%d", n)
		_, cached := svc.random.Get(ctx, strconv.Itoa(n))
		assert.False(t, cached, "n=%d has its own sample entry", n)
	}
}

func TestGetRandomSampleKeepsShuffledOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 5)
	svc := newTestQuestionService(t, db)
	svc.shuffle = func(ids []uint) {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}

	sample, err := svc.GetRandomSample(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint{bank[4].ID, bank[3].ID, bank[2].ID}, questionIDs(sample))
}

func TestGetRandomSampleEmptyBank(t *testing.T) {
	svc := newTestQuestionService(t, newTestDB(t))

	sample, err := svc.GetRandomSample(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, sample)
}

func TestUpdateReconcilesAnswers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	q := bank[0]
	kept, referenced, dropped := q.Answers[0], q.Answers[1], q.Answers[2]

	// an evaluation selected the answer that is about to be removed
	evaluations := newTestEvaluationService(db, KeepLast, nil)
	_, err := evaluations.Evaluate(ctx, 7, []Submission{{QuestionID: q.ID, AnswerID: referenced.ID}})
	require.NoError(t, err)

	svc := newTestQuestionService(t, db)
	view, err := svc.Update(ctx, q.ID, &QuestionInput{
		QuestionText: "Are the gills bright red and moist?",
		Answers: []AnswerInput{
			{ID: &kept.ID, AnswerText: "yes, and moist"},
			{AnswerText: "only when bright red and moist", IsCorrect: true},
		},
	})
	require.NoError(t, err)

	require.Len(t, view.Answers, 2)
	assert.Equal(t, kept.ID, view.Answers[0].ID)
	assert.Equal(t, "yes, and moist", view.Answers[0].AnswerText)
	assert.False(t, view.Answers[0].IsCorrect)
	assert.True(t, view.Answers[1].IsCorrect)

	var retired models.Answer
	require.NoError(t, db.First(&retired, referenced.ID).Error)
	assert.True(t, retired.Retired)
	assert.False(t, retired.IsCorrect)

	assert.Zero(t, countRows(t, db, &models.Answer{}, "id = ?", dropped.ID))

	// the key still has exactly one correct answer
	key, err := NewAnswerKey(db).CorrectAnswersFor(ctx, []uint{q.ID})
	require.NoError(t, err)
	assert.Equal(t, view.Answers[1].ID, key[q.ID].ID)
}

func TestUpdateRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	svc := newTestQuestionService(t, db)

	_, err := svc.Update(ctx, 999, sampleInput("missing"))
	assert.True(t, IsNotFound(err), "got %v", err)

	id := bank[0].Answers[0].ID
	_, err = svc.Update(ctx, bank[0].ID, &QuestionInput{
		QuestionText: "dup ids",
		Answers: []AnswerInput{
			{ID: &id, AnswerText: "a", IsCorrect: true},
			{ID: &id, AnswerText: "b"},
		},
	})
	assert.True(t, IsValidation(err), "got %v", err)
}

func TestAddAnswers(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	svc := newTestQuestionService(t, db)

	view, err := svc.AddAnswers(ctx, bank[0].ID, []AnswerInput{{AnswerText: "slightly pink"}})
	require.NoError(t, err)
	assert.Len(t, view.Answers, 4)

	_, err = svc.AddAnswers(ctx, bank[0].ID, []AnswerInput{{AnswerText: "another right one", IsCorrect: true}})
	assert.True(t, IsValidation(err), "got %v", err)

	_, err = svc.AddAnswers(ctx, 999, []AnswerInput{{AnswerText: "x"}})
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestDeleteQuestionRacingEvaluate(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		db := newTestDB(t)
		bank := seedBank(t, db, 2)
		questions := newTestQuestionService(t, db)
		evaluations := newTestEvaluationService(db, KeepLast, nil)

		var evalErr, delErr error
		var g errgroup.Group
		g.Go(func() error {
			_, evalErr = evaluations.Evaluate(ctx, 1, answersFor(bank, 2))
			return nil
		})
		g.Go(func() error {
			delErr = questions.Delete(ctx, bank[0].ID)
			return nil
		})
		require.NoError(t, g.Wait())
		require.NoError(t, delErr)

		var q models.Question
		err := db.Unscoped().First(&q, bank[0].ID).Error
		if evalErr == nil {
			require.NoError(t, err, "a scored question keeps its row")
			assert.True(t, q.DeletedAt.Valid)
		} else {
			assert.True(t, IsNotFound(evalErr), "got %v", evalErr)
			assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
			assert.Zero(t, countRows(t, db, &models.UserAnswer{}, "question_id = ?", bank[0].ID))
		}
	}
}

func TestDeleteUnreferencedQuestion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	svc := newTestQuestionService(t, db)

	require.NoError(t, svc.Delete(ctx, bank[0].ID))

	assert.Zero(t, countRows(t, db.Unscoped(), &models.Question{}, "id = ?", bank[0].ID))
	assert.Zero(t, countRows(t, db, &models.Answer{}, "question_id = ?", bank[0].ID))

	assert.True(t, IsNotFound(svc.Delete(ctx, bank[0].ID)))
}

func TestDeleteReferencedQuestion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	q := bank[0]

	evaluations := newTestEvaluationService(db, KeepLast, nil)
	_, err := evaluations.Evaluate(ctx, 3, []Submission{{QuestionID: q.ID, AnswerID: q.Answers[0].ID}})
	require.NoError(t, err)

	svc := newTestQuestionService(t, db)
	require.NoError(t, svc.Delete(ctx, q.ID))

	_, err = svc.GetByID(ctx, q.ID)
	assert.True(t, IsNotFound(err))

	var soft models.Question
	require.NoError(t, db.Unscoped().First(&soft, q.ID).Error)
	assert.True(t, soft.DeletedAt.Valid)

	var selected models.Answer
	require.NoError(t, db.First(&selected, q.Answers[0].ID).Error)
	assert.True(t, selected.Retired)
	assert.Zero(t, countRows(t, db, &models.Answer{}, "question_id = ? AND retired = ?", q.ID, false))
}

func TestDeleteAnswer(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	bank := seedBank(t, db, 1)
	q := bank[0]
	correct, picked, unused := q.Answers[0], q.Answers[1], q.Answers[2]

	evaluations := newTestEvaluationService(db, KeepLast, nil)
	_, err := evaluations.Evaluate(ctx, 3, []Submission{{QuestionID: q.ID, AnswerID: picked.ID}})
	require.NoError(t, err)

	svc := newTestQuestionService(t, db)
	before, err := svc.AnswersOf(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, before, 3)

	require.NoError(t, svc.DeleteAnswer(ctx, unused.ID))
	assert.Zero(t, countRows(t, db, &models.Answer{}, "id = ?", unused.ID))

	require.NoError(t, svc.DeleteAnswer(ctx, picked.ID))
	var retired models.Answer
	require.NoError(t, db.First(&retired, picked.ID).Error)
	assert.True(t, retired.Retired)

	after, err := svc.AnswersOf(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, after, 1, "cached answers were invalidated")
	assert.Equal(t, correct.ID, after[0].ID)

	tests := []struct {
		name  string
		id    uint
		check func(error) bool
	}{
		{"correct answer", correct.ID, IsValidation},
		{"retired answer", picked.ID, IsNotFound},
		{"unknown answer", 999, IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.DeleteAnswer(ctx, tt.id)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}

	_, err = svc.AnswersOf(ctx, 999)
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestMaskCorrectness(t *testing.T) {
	views := []QuestionView{{
		ID: 1,
		Answers: []AnswerView{
			{ID: 1, IsCorrect: true},
			{ID: 2},
		},
	}}

	masked := MaskCorrectness(views)

	for _, a := range masked[0].Answers {
		assert.False(t, a.IsCorrect)
	}
	assert.True(t, views[0].Answers[0].IsCorrect, "input must not change")
}
