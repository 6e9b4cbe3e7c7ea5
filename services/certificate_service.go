package services

import (
	"context"
	"fmt"
	"time"

	"fishquiz/models"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxCodeAttempts = 3

type CertificateService struct {
	db       *gorm.DB
	notifier Notifier
	newCode  func() string
	now      func() time.Time
}

func NewCertificateService(db *gorm.DB, notifier Notifier) *CertificateService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &CertificateService{
		db:       db,
		notifier: notifier,
		newCode:  uuid.NewString,
		now:      time.Now,
	}
}

type CertificateView struct {
	ID              uint      `json:"id"`
	UserID          uint      `json:"userId"`
	EvaluationID    uint      `json:"evaluationId"`
	CertificateCode string    `json:"certificateCode"`
	IssuedAt        time.Time `json:"issuedAt"`
}

func toCertificateView(c models.Certificate) CertificateView {
	return CertificateView{
		ID:              c.ID,
		UserID:          c.UserID,
		EvaluationID:    c.EvaluationID,
		CertificateCode: c.Code,
		IssuedAt:        c.IssuedAt,
	}
}

// Generate returns the certificate of the (user, evaluation) pair, issuing it
// on first request. created reports whether this call issued it. Only the
// owner of a COMPLETED evaluation can be issued a certificate; once issued it
// is returned unchanged forever.
func (s *CertificateService) Generate(ctx context.Context, userID, evaluationID uint) (CertificateView, bool, error) {
	if userID == 0 || evaluationID == 0 {
		return CertificateView{}, false, Validationf("userId and evaluationId are required")
	}

	existing, found, err := s.find(s.db.WithContext(ctx), userID, evaluationID)
	if err != nil {
		return CertificateView{}, false, err
	}
	if found {
		return toCertificateView(existing), false, nil
	}

	var (
		cert    models.Certificate
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Delete takes this row FOR UPDATE before counting certificates.
		var evaluation models.Evaluation
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).
			First(&evaluation, evaluationID).Error; err != nil {
			return notFoundOr(err, "evaluation %d not found", evaluationID)
		}
		if evaluation.UserID != userID {
			return Validationf("evaluation %d does not belong to user %d", evaluationID, userID)
		}
		if evaluation.Status != models.EvaluationCompleted {
			return Validationf("evaluation %d is %s, a certificate requires a COMPLETED evaluation", evaluationID, evaluation.Status)
		}

		var err error
		cert, created, err = s.issue(tx, userID, evaluationID)
		return err
	})
	if err != nil {
		return CertificateView{}, false, err
	}

	view := toCertificateView(cert)
	if created {
		glog.Infof("issued certificate %s to user %d for evaluation %d", cert.Code, userID, evaluationID)
		s.notifier.Publish(EventCertificateIssued, view)
	}
	return view, created, nil
}

// issue inserts a new certificate. The unique index on (user_id,
// evaluation_id) decides concurrent issuers: a loser reads back and returns
// the winner's row. A violation with no row for the pair was a code
// collision and is retried with a fresh code. Each insert runs in its own
// savepoint so a violation leaves db usable.
func (s *CertificateService) issue(db *gorm.DB, userID, evaluationID uint) (models.Certificate, bool, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		cert := models.Certificate{
			UserID:       userID,
			EvaluationID: evaluationID,
			Code:         s.newCode(),
			IssuedAt:     s.now().UTC(),
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&cert).Error
		})
		if err == nil {
			return cert, true, nil
		}
		if !isUniqueViolation(err) {
			return models.Certificate{}, false, fmt.Errorf("failed to issue certificate: %w", err)
		}

		winner, found, ferr := s.find(db, userID, evaluationID)
		if ferr != nil {
			return models.Certificate{}, false, ferr
		}
		if found {
			glog.V(2).Infof("certificate for user %d evaluation %d issued concurrently, returning %s", userID, evaluationID, winner.Code)
			return winner, false, nil
		}
		glog.Warningf("certificate code collision for evaluation %d (attempt %d)", evaluationID, attempt)
	}
	return models.Certificate{}, false, Conflictf("could not allocate a unique certificate code for evaluation %d", evaluationID)
}

func (s *CertificateService) find(db *gorm.DB, userID, evaluationID uint) (models.Certificate, bool, error) {
	var certs []models.Certificate
	if err := db.
		Where("user_id = ? AND evaluation_id = ?", userID, evaluationID).
		Limit(1).
		Find(&certs).Error; err != nil {
		return models.Certificate{}, false, fmt.Errorf("failed to look up certificate: %w", err)
	}
	if len(certs) == 0 {
		return models.Certificate{}, false, nil
	}
	return certs[0], true, nil
}

func (s *CertificateService) GetByUser(ctx context.Context, userID uint) ([]CertificateView, error) {
	var certs []models.Certificate
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC, id DESC").
		Find(&certs).Error; err != nil {
		return nil, fmt.Errorf("failed to list certificates of user %d: %w", userID, err)
	}
	views := make([]CertificateView, len(certs))
	for i, c := range certs {
		views[i] = toCertificateView(c)
	}
	return views, nil
}

func (s *CertificateService) GetByID(ctx context.Context, id uint) (CertificateView, error) {
	var cert models.Certificate
	if err := s.db.WithContext(ctx).First(&cert, id).Error; err != nil {
		return CertificateView{}, notFoundOr(err, "certificate %d not found", id)
	}
	return toCertificateView(cert), nil
}
