package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/utils"
)

// Identifiable is implemented by every entity embedding models.Base.
type Identifiable interface {
	SetID(id utils.SixID)
}

// InsertOne inserts doc with a fresh SixID, regenerating the ID on a duplicate _id
// collision. ctx may be a mongo.SessionContext to insert inside a transaction.
func InsertOne(ctx context.Context, coll *mongo.Collection, doc Identifiable) error {
	return Try(func() error {
		doc.SetID(utils.NewSixID())
		_, err := coll.InsertOne(ctx, doc)
		return err
	})
}
