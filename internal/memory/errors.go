package memory

import (
	"errors"

	"github.com/ncruces/go-sqlite3"

	"github.com/bowerhall/mira/internal/apperr"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrMissingReference = errors.New("referenced row does not exist")
)

func notFound(op, what string) error {
	return &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: what, Err: ErrNotFound}
}

// classify maps driver constraint failures onto the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: serr.Error(), Err: ErrAlreadyExists}
		case sqlite3.CONSTRAINT_FOREIGNKEY:
			return &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Msg: serr.Error(), Err: ErrMissingReference}
		case sqlite3.CONSTRAINT_CHECK, sqlite3.CONSTRAINT_NOTNULL:
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Err: err}
		}
	}

	if errors.Is(err, ErrQueryNotAuthorized) {
		return &apperr.Error{Kind: apperr.KindBusinessLogic, Op: op, Err: err}
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	return apperr.Wrap(apperr.KindUnknown, op, err)
}
