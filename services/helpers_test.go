package services

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fishquiz/cache"
	"fishquiz/config"
	"fishquiz/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a migrated sqlite database in a temp dir. A single
// connection keeps sqlite writers serialised.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "fishquiz.db")), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

// seedBank stores n questions with three answers each; the first answer is
// the correct one.
func seedBank(t *testing.T, db *gorm.DB, n int) []models.Question {
	t.Helper()

	questions := make([]models.Question, n)
	for i := range questions {
		questions[i] = models.Question{
			Text: fmt.Sprintf("Question %d: are the gills bright red?", i+1),
			Answers: []models.Answer{
				{Text: "yes", IsCorrect: true},
				{Text: "no"},
				{Text: "cannot tell"},
			},
		}
		require.NoError(t, db.Create(&questions[i]).Error)
	}
	return questions
}

// answersFor builds one submission per question, answering the first
// correct questions correctly and the rest wrongly.
func answersFor(questions []models.Question, correct int) []Submission {
	subs := make([]Submission, len(questions))
	for i, q := range questions {
		pick := q.Answers[1]
		if i < correct {
			pick = q.Answers[0]
		}
		subs[i] = Submission{QuestionID: q.ID, AnswerID: pick.ID}
	}
	return subs
}

func newTestQuestionService(t *testing.T, db *gorm.DB) *QuestionService {
	t.Helper()
	return NewQuestionService(db, cache.NewMemoryStore(), time.Minute)
}

func newTestEvaluationService(db *gorm.DB, policy DuplicatePolicy, notifier Notifier) *EvaluationService {
	return NewEvaluationService(db, NewAnswerKey(db), policy, notifier)
}

type event struct {
	Type    string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingNotifier) Publish(eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Type: eventType, Payload: payload})
}

func (r *recordingNotifier) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}
