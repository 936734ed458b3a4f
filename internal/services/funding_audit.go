package services

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"lingocrowd/core/internal/models"
	"lingocrowd/core/internal/utils"
)

// FundingDrift is a project whose stored funding differs from its captured pledges.
type FundingDrift struct {
	ProjectID utils.SixID `json:"project_id"`
	Stored    int64       `json:"stored"`
	Captured  int64       `json:"captured"`
	Fixed     bool        `json:"fixed"`
}

// AuditFunding compares current_funding of every project with the sum of its CAPTURED
// pledges. With fix set, drifting projects are rewritten to the captured sum and their
// anomaly flag cleared.
func AuditFunding(ctx context.Context, database *mongo.Database, fix bool) ([]FundingDrift, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$lookup", Value: bson.M{
			"from": models.PledgesCollection,
			"let":  bson.M{"pid": "$_id"},
			"pipeline": bson.A{
				bson.M{"$match": bson.M{"$expr": bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$project_id", "$$pid"}},
					bson.M{"$eq": bson.A{"$status", models.PledgeCaptured}},
				}}}},
				bson.M{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}},
			},
			"as": "captured",
		}}},
		{{Key: "$project", Value: bson.M{
			"current_funding": 1,
			"captured":        bson.M{"$ifNull": bson.A{bson.M{"$first": "$captured.total"}, 0}},
		}}},
		{{Key: "$match", Value: bson.M{"$expr": bson.M{"$ne": bson.A{"$current_funding", "$captured"}}}}},
	}

	projects := database.Collection(models.ProjectsCollection)
	cursor, err := projects.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate funding: %w", err)
	}
	var rows []struct {
		ID             utils.SixID `bson:"_id"`
		CurrentFunding int64       `bson:"current_funding"`
		Captured       int64       `bson:"captured"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode funding audit: %w", err)
	}

	drifts := make([]FundingDrift, 0, len(rows))
	for _, r := range rows {
		d := FundingDrift{ProjectID: r.ID, Stored: r.CurrentFunding, Captured: r.Captured}
		log.Printf("ANOMALY: project %s funding %d, captured pledges %d", r.ID, r.CurrentFunding, r.Captured)
		if fix {
			// Only rewrite if nothing moved since the aggregation read it.
			res, err := projects.UpdateOne(ctx,
				bson.M{"_id": r.ID, "current_funding": r.CurrentFunding},
				bson.M{"$set": bson.M{"current_funding": r.Captured, "funding_anomaly": false}})
			if err != nil {
				return drifts, fmt.Errorf("failed to fix funding of %s: %w", r.ID, err)
			}
			d.Fixed = res.ModifiedCount == 1
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}

// OwedRefunds lists CAPTURED pledges of CANCELLED projects. Cancellation refunds them
// after its transaction commits, so anything listed here was interrupted or failed.
func OwedRefunds(ctx context.Context, database *mongo.Database) ([]utils.SixID, error) {
	projectIDs, err := database.Collection(models.ProjectsCollection).Distinct(ctx, "_id",
		bson.M{"status": models.ProjectCancelled})
	if err != nil {
		return nil, fmt.Errorf("failed to list cancelled projects: %w", err)
	}
	if len(projectIDs) == 0 {
		return nil, nil
	}
	cursor, err := database.Collection(models.PledgesCollection).Find(ctx,
		bson.M{"project_id": bson.M{"$in": projectIDs}, "status": models.PledgeCaptured})
	if err != nil {
		return nil, fmt.Errorf("failed to list owed refunds: %w", err)
	}
	var pledges []models.Pledge
	if err := cursor.All(ctx, &pledges); err != nil {
		return nil, fmt.Errorf("failed to decode owed refunds: %w", err)
	}
	ids := make([]utils.SixID, 0, len(pledges))
	for _, p := range pledges {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
