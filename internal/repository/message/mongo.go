package message

import (
	"context"
	"shieldchat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// MessageRepo keeps sealed message records in Mongo, one document per
	// record id.
	MessageRepo struct {
		collection *mongo.Collection
	}
)

func NewMessageRepo(db *mongo.Database, collection string) *MessageRepo {
	if collection == "" {
		collection = "messages"
	}
	return &MessageRepo{
		collection: db.Collection(collection),
	}
}

// EnsureIndexes creates the channel/timestamp index used by ReadAll.
func (r *MessageRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

func (r *MessageRepo) ReadAll(ctx context.Context, channel string) ([]*model.CachedRecord, error) {
	filter := bson.M{
		"channel": channel,
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})

	cur, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var records []*model.CachedRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *MessageRepo) WriteOne(ctx context.Context, record *model.CachedRecord) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": record.ID},
		record,
		options.Replace().SetUpsert(true),
	)
	return err
}

// WriteMany upserts by id, so replays are harmless.
func (r *MessageRepo) WriteMany(ctx context.Context, records []*model.CachedRecord) error {
	if len(records) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetReplacement(rec).
			SetUpsert(true))
	}

	_, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return err
}
