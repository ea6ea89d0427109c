package field

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoValueStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoValueStore(ctx context.Context, uri, dbName, collName string) (ValueStore, error) {
	if uri == "" {
		return nil, errors.New("field: mongo uri is empty")
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
	return &mongoValueStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

func NewMongoValueStoreWithClient(client *mongo.Client, dbName, collName string) ValueStore {
	return &mongoValueStore{client: client, coll: client.Database(dbName).Collection(collName)}
}

func (m *mongoValueStore) Get(ctx context.Context, fieldID string) (string, error) {
	if fieldID == "" {
		return "", errors.New("field: empty id")
	}
	var doc struct {
		Value string `bson:"value"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": fieldID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	return doc.Value, err
}

func (m *mongoValueStore) Put(ctx context.Context, fieldID, envelope string) error {
	if fieldID == "" {
		return errors.New("field: empty id")
	}
	_, err := m.coll.UpdateByID(
		ctx,
		fieldID,
		bson.M{
			"$set": bson.M{
				"value":     envelope,
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
