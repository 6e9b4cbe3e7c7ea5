package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindValidation    ErrorKind = "validation_error"
	KindConfiguration ErrorKind = "configuration_error"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal_error"
)

// ServiceError is the error type every service returns for failures the
// caller can act on. Anything else is an internal error.
type ServiceError struct {
	Kind    ErrorKind
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func NotFoundf(format string, a ...any) error {
	return &ServiceError{Kind: KindNotFound, Message: fmt.Sprintf(format, a...)}
}

func Validationf(format string, a ...any) error {
	return &ServiceError{Kind: KindValidation, Message: fmt.Sprintf(format, a...)}
}

// Configurationf reports stored data that breaks a domain rule, such as a
// question without exactly one correct answer.
func Configurationf(format string, a ...any) error {
	return &ServiceError{Kind: KindConfiguration, Message: fmt.Sprintf(format, a...)}
}

func Conflictf(format string, a ...any) error {
	return &ServiceError{Kind: KindConflict, Message: fmt.Sprintf(format, a...)}
}

// KindOf returns the kind of err, or KindInternal when err is not a
// ServiceError.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// notFoundOr maps gorm.ErrRecordNotFound to a NotFound error and wraps
// anything else.
func notFoundOr(err error, format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ServiceError{Kind: KindNotFound, Message: msg}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// isUniqueViolation reports whether err came from a unique index. Dialects
// with error translation enabled return gorm.ErrDuplicatedKey; a raw
// postgres error is recognised by its SQLSTATE.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
