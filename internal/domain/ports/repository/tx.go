package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle passed back into repository methods.
// A nil Tx means "run against the pool directly".
type Tx any

// TransactionManager begins a transaction, invokes fn, and commits or rolls
// back depending on fn's error.
type TransactionManager interface {
	WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
