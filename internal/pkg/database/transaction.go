package database

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function. The ctx passed in carries the
// transaction, so repositories using GetDBFromContext join it.
type TxFunc func(ctx context.Context) error

// InTx runs fn inside a transaction. If ctx already carries one, fn joins
// it instead of opening a nested transaction.
func (db *DB) InTx(ctx context.Context, fn TxFunc) error {
	if _, ok := TransactionFromContext(ctx); ok {
		return fn(ctx)
	}

	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(ContextWithTransaction(ctx, tx)); err != nil {
			db.logger.WithContext(ctx).Debug("transaction failed, rolling back", zap.Error(err))
			return err
		}
		return nil
	})
}

// TransactionKey is the context key for storing transaction
type TransactionKey struct{}

// ContextWithTransaction adds transaction to context
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, TransactionKey{}, tx)
}

// TransactionFromContext extracts transaction from context
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(TransactionKey{}).(*gorm.DB)
	return tx, ok
}

// GetDBFromContext returns the transaction carried by ctx, or the base DB
func (db *DB) GetDBFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
