// Package persistence provides the unit-of-work boundary shared by aggregate
// repositories and the outbox store. The transaction travels in the context,
// so a store can participate in whatever atomic unit its caller opened.
package persistence

import (
	"context"
	"errors"
)

var ErrNoTx = errors.New("persistence: no transaction in context")

// TxManager runs a function inside one atomic unit of work. If fn returns an
// error the unit is rolled back and nothing it wrote exists afterwards.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
