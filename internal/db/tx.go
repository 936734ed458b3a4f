package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// TxFunc is the body of a transaction. The SessionContext must be passed to every
// collection call that should take part in the transaction.
//
// The driver re-runs the body on transient errors (write conflicts), so it must only
// touch the database: no gateway calls, no live publishes.
type TxFunc func(sc mongo.SessionContext) error

// WithTransaction runs fn inside a multi-document transaction on db's client.
// Either every write made through sc commits or none does.
func WithTransaction(ctx context.Context, db *mongo.Database, fn TxFunc) error {
	session, err := db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txOpts)
	return err
}
