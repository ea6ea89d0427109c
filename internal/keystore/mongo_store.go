package keystore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const keyDocID = "master-key"

// MongoStore holds the key record as a single document in a configuration
// collection. Saves upsert the whole record, so concurrent first-use races
// settle last-write-wins.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("keystore: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

func NewMongoStoreWithClient(client *mongo.Client, dbName, collName string) *MongoStore {
	return &MongoStore{client: client, coll: client.Database(dbName).Collection(collName)}
}

func (m *MongoStore) Load(ctx context.Context) (Record, error) {
	var doc struct {
		Record Record `bson:"record"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": keyDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrKeyNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return doc.Record, nil
}

func (m *MongoStore) Save(ctx context.Context, rec Record) error {
	_, err := m.coll.UpdateByID(
		ctx,
		keyDocID,
		bson.M{
			"$set": bson.M{
				"record":    rec,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
