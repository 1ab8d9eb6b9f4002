package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// errTxAbort rolls the transaction back without reporting an error. Returned
// by a transaction body that finds nothing to do.
var errTxAbort = errors.New("transaction aborted")

// txRunner runs a function inside one database transaction: commit on nil,
// rollback on any error, errTxAbort swallowed.
type txRunner interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type dbTxRunner struct {
	db *sqlx.DB
}

func (r dbTxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("service: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, errTxAbort) {
			return nil
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("service: commit tx: %w", err)
	}
	return nil
}
