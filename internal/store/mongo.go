package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultMongoTimeout = 5 * time.Second

// MongoBackend stores each collection in a MongoDB collection of the
// same name. Single-document updates are atomic on the server, so no
// client-side locking is needed.
type MongoBackend struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
}

func NewMongoBackend(ctx context.Context, uri, database string, timeout time.Duration) (*MongoBackend, error) {
	if timeout <= 0 {
		timeout = defaultMongoTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return &MongoBackend{
		client:  client,
		db:      client.Database(database),
		timeout: timeout,
	}, nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.client.Ping(ctx, readpref.Primary())
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

type mongoCollection[T any] struct {
	coll    *mongo.Collection
	timeout time.Duration
}

func (c *mongoCollection[T]) Find(ctx context.Context, f Filter) ([]T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cur, err := c.coll.Find(ctx, toBSONFilter(f))
	if err != nil {
		return nil, fmt.Errorf("%s find: %w", c.coll.Name(), err)
	}
	defer cur.Close(ctx)

	out := make([]T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%s decode: %w", c.coll.Name(), err)
	}
	return out, nil
}

func (c *mongoCollection[T]) FindOne(ctx context.Context, f Filter) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var v T
	if err := c.coll.FindOne(ctx, toBSONFilter(f)).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return v, ErrNotFound
		}
		return v, fmt.Errorf("%s find one: %w", c.coll.Name(), err)
	}
	return v, nil
}

func (c *mongoCollection[T]) FindByID(ctx context.Context, id string) (T, error) {
	return c.FindOne(ctx, Where(Eq(IDField, id)))
}

func (c *mongoCollection[T]) Create(ctx context.Context, doc T) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prepare(&doc, primitive.NewObjectID().Hex())

	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		var zero T
		if mongo.IsDuplicateKeyError(err) {
			return zero, fmt.Errorf("%s: %w", c.coll.Name(), ErrDuplicate)
		}
		return zero, fmt.Errorf("%s insert: %w", c.coll.Name(), err)
	}
	return doc, nil
}

func (c *mongoCollection[T]) UpdateByID(ctx context.Context, id string, u Update) (T, error) {
	if u.empty() {
		return c.FindByID(ctx, id)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var v T
	err := c.coll.FindOneAndUpdate(ctx, bson.M{IDField: id}, toBSONUpdate(u), opts).Decode(&v)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return v, ErrNotFound
		}
		if mongo.IsDuplicateKeyError(err) {
			return v, fmt.Errorf("%s: %w", c.coll.Name(), ErrDuplicate)
		}
		return v, fmt.Errorf("%s update: %w", c.coll.Name(), err)
	}
	return v, nil
}

func (c *mongoCollection[T]) EnsureUnique(ctx context.Context, field string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName(field + "_unique").
			SetPartialFilterExpression(bson.M{field: bson.M{"$exists": true}}),
	})
	if err != nil {
		return fmt.Errorf("%s create index on %q: %w", c.coll.Name(), field, err)
	}
	return nil
}

func toBSONFilter(f Filter) bson.M {
	clauses := make([]bson.M, 0, len(f))
	for _, c := range f {
		switch c.Op {
		case OpEq:
			clauses = append(clauses, bson.M{c.Field: c.Values[0]})
		case OpNotIn:
			clauses = append(clauses, bson.M{c.Field: bson.M{"$nin": bson.A(c.Values)}})
		case OpAll:
			clauses = append(clauses, bson.M{c.Field: bson.M{"$all": bson.A(c.Values)}})
		}
	}

	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0]
	default:
		return bson.M{"$and": clauses}
	}
}

func toBSONUpdate(u Update) bson.M {
	upd := bson.M{}
	if len(u.Set) > 0 {
		upd["$set"] = bson.M(u.Set)
	}
	if len(u.Push) > 0 {
		upd["$push"] = bson.M(u.Push)
	}
	if len(u.Pull) > 0 {
		pull := bson.M{}
		for field, match := range u.Pull {
			pull[field] = bson.M(match)
		}
		upd["$pull"] = pull
	}
	return upd
}
