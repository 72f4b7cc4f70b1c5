package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/migrate"

	// Registers the "mongo" migration executor.
	_ "github.com/xraph/grove/drivers/mongodriver/mongomigrate"
)

// Migrations returns the grove migration group that builds the Bursar
// indexes on mdb. The mongo executor cannot run raw statements, so each
// migration works through the driver's collections.
func Migrations(mdb *mongodriver.MongoDB) *migrate.Group {
	g := migrate.NewGroup("bursar")
	indexes := migrationIndexes()
	for i, col := range []string{colStructures, colItems, colInvoices, colPayments} {
		col := col
		g.MustRegister(&migrate.Migration{
			Name:    "create_" + col + "_indexes",
			Version: fmt.Sprintf("2025010100000%d", i+1),
			Up: func(ctx context.Context, _ migrate.Executor) error {
				_, err := mdb.Collection(col).Indexes().CreateMany(ctx, indexes[col])
				return err
			},
			Down: func(ctx context.Context, _ migrate.Executor) error {
				return mdb.Collection(col).Drop(ctx)
			},
		})
	}
	return g
}

// migrationIndexes returns the index definitions for all bursar collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStructures: {
			{
				Keys: bson.D{
					{Key: "school_id", Value: 1}, {Key: "year", Value: 1}, {Key: "term", Value: 1},
					{Key: "level", Value: 1}, {Key: "name_lower", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName(idxStructureName),
			},
			{
				Keys:    bson.D{{Key: "school_id", Value: 1}, {Key: "year", Value: 1}, {Key: "term", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxDefault).SetPartialFilterExpression(bson.M{"is_default": true}),
			},
		},
		colItems: {
			{
				Keys:    bson.D{{Key: "structure_id", Value: 1}, {Key: "class_id", Value: 1}, {Key: "name_lower", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxItemKey),
			},
		},
		colInvoices: {
			{
				Keys: bson.D{
					{Key: "school_id", Value: 1}, {Key: "student_id", Value: 1},
					{Key: "year", Value: 1}, {Key: "term", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName(idxInvoiceTerm),
			},
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "year", Value: 1}, {Key: "term", Value: 1}, {Key: "status", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "invoice_id", Value: 1}, {Key: "posted_at", Value: 1}}},
			{Keys: bson.D{{Key: "school_id", Value: 1}, {Key: "student_id", Value: 1}}},
		},
	}
}
