// Package mongostore implements store.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/4xmen/karu/internal/store"
)

// maxCASAttempts bounds the optimistic retry loop in UpdateChat/UpdateMessage.
const maxCASAttempts = 8

var ErrContention = errors.New("document changed concurrently")

// usernameCollation makes username lookups case-insensitive.
var usernameCollation = &options.Collation{Locale: "en", Strength: 2}

type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	users         *mongo.Collection
	profiles      *mongo.Collection
	chats         *mongo.Collection
	messages      *mongo.Collection
	notifications *mongo.Collection
	log           *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, uri, database string, log *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:        client,
		db:            db,
		users:         db.Collection("users"),
		profiles:      db.Collection("profiles"),
		chats:         db.Collection("chats"),
		messages:      db.Collection("messages"),
		notifications: db.Collection("notifications"),
		log:           log,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("connected to mongo", zap.String("database", database))
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexSets := []struct {
		coll    *mongo.Collection
		indexes []mongo.IndexModel
	}{
		{s.profiles, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("user_id_idx")},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetCollation(usernameCollation).SetName("username_idx")},
		}},
		{s.chats, []mongo.IndexModel{
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_time", Value: -1}}, Options: options.Index().SetName("participants_idx")},
		}},
		{s.messages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("chat_created_idx")},
		}},
		{s.notifications, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("user_created_idx")},
		}},
	}
	for _, set := range indexSets {
		if _, err := set.coll.Indexes().CreateMany(ctx, set.indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", set.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	st := &store.Stats{Backend: "mongo"}
	counts := []struct {
		coll *mongo.Collection
		dst  *int64
	}{
		{s.users, &st.Users},
		{s.profiles, &st.Profiles},
		{s.chats, &st.Chats},
		{s.messages, &st.Messages},
		{s.notifications, &st.Notifications},
	}
	for _, c := range counts {
		n, err := c.coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c.coll.Name(), err)
		}
		*c.dst = n
	}

	var dbStats bson.M
	if err := s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&dbStats); err != nil {
		return nil, fmt.Errorf("dbStats: %w", err)
	}
	switch v := dbStats["storageSize"].(type) {
	case int32:
		st.SizeBytes = int64(v)
	case int64:
		st.SizeBytes = v
	case float64:
		st.SizeBytes = int64(v)
	}
	return st, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*T, error) {
	doc := new(T)
	if err := coll.FindOne(ctx, filter, opts...).Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func findMany[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]*T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*T
	for cur.Next(ctx) {
		doc := new(T)
		if err := cur.Decode(doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, cur.Err()
}

// compareAndSwap loads the document, applies mutate and replaces it only if
// the stored version has not moved. Lost races are retried.
func compareAndSwap[T any](ctx context.Context, coll *mongo.Collection, id string, version func(*T) *int64, mutate func(*T) (bool, error)) (*T, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		doc, err := findOne[T](ctx, coll, bson.M{"_id": id})
		if err != nil {
			return nil, err
		}
		changed, err := mutate(doc)
		if err != nil {
			return nil, err
		}
		if !changed {
			return doc, nil
		}

		v := version(doc)
		prev := *v
		*v = prev + 1
		res, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": prev}, doc)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("update %s %s: %w", coll.Name(), id, ErrContention)
}

func notFoundUnlessMatched(res *mongo.UpdateResult) error {
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
