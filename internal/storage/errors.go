package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound     = errors.New("storage: user not found")
	ErrMessageNotFound  = errors.New("storage: message not found")
	ErrPermission       = errors.New("storage: requester is not the receiver")
	ErrStatusRegression = errors.New("storage: status regression")
	ErrInvalidStatus    = errors.New("storage: invalid status")
	ErrEmptyMessage     = errors.New("storage: message has neither text nor attachment")
	ErrSelfMessage      = errors.New("storage: sender and receiver are the same user")
	ErrStorage          = errors.New("storage: backend failure")
)

// Postgres error classes we report with a clearer message.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// wrapDBError converts driver errors to ErrStorage, keeping the original text.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: duplicate key (%s)", ErrStorage, op, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s: missing reference (%s)", ErrStorage, op, pgErr.ConstraintName)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s: check failed (%s)", ErrStorage, op, pgErr.ConstraintName)
		}
		return fmt.Errorf("%w: %s: %s [%s]", ErrStorage, op, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
