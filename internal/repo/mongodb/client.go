package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/geocoder89/trajethub/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ridersCollection  = "users"
	driversCollection = "drivers"
	trajetsCollection = "trajets"
)

func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique and lookup indexes every store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for _, name := range []string{ridersCollection, driversCollection} {
		models := []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetName("uniq_username").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("uniq_email").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "resetPasswordToken", Value: 1}},
				Options: options.Index().SetName("idx_reset_token").SetSparse(true),
			},
		}
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("indexes for %s: %w", name, err)
		}
	}

	models := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "pointRamasage", Value: 1},
				{Key: "pointLivraison", Value: 1},
				{Key: "modetransport", Value: 1},
				{Key: "dateTraject", Value: 1},
			},
			Options: options.Index().SetName("idx_search"),
		},
		{
			Keys: bson.D{
				{Key: "driver", Value: 1},
				{Key: "dateTraject", Value: 1},
			},
			Options: options.Index().SetName("idx_driver_date"),
		},
		{
			Keys: bson.D{
				{Key: "dateTraject", Value: 1},
				{Key: "_id", Value: 1},
			},
			Options: options.Index().SetName("idx_date_id"),
		},
	}
	if _, err := db.Collection(trajetsCollection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("indexes for %s: %w", trajetsCollection, err)
	}
	return nil
}

func observe(ctx context.Context, prom *observability.Prom, op string, fn func(context.Context) error) error {
	return observability.ObserveStore(ctx, prom, observability.StoreMongo, op, fn)
}
