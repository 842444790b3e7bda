package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"price_alert_backend/models"
)

// MongoAlertRegistry keeps one document per alert, _id = name
type MongoAlertRegistry struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// ConnectMongoAlertRegistry connects to MongoDB and verifies the connection with a ping
func ConnectMongoAlertRegistry(ctx context.Context, uri, database, collection string, logger *zap.Logger) (*MongoAlertRegistry, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Configure client options with retry
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect on ping failure
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("MongoDB connected", zap.String("database", database), zap.String("collection", collection))
	return &MongoAlertRegistry{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (m *MongoAlertRegistry) Save(ctx context.Context, alert models.Alert) error {
	_, err := m.collection.ReplaceOne(ctx,
		bson.M{"_id": alert.Name},
		alert,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoAlertRegistry) Delete(ctx context.Context, name string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": name})
	return err
}

func (m *MongoAlertRegistry) List(ctx context.Context) ([]models.Alert, error) {
	cursor, err := m.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var alerts []models.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return alerts, nil
}

// Close disconnects the client
func (m *MongoAlertRegistry) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
