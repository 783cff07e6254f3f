// Package mongostore implements store.Store on MongoDB.
//
// Collections (database configurable, default "config"):
//
//	actions       {_id, actionid, target, lt}   capped, claims zero lt in place
//	alternatives  {_id: endpoint, config, lt}
//	profiles      {_id: process, lt}
//	counters      {_id: counter, n}
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config configures the MongoDB store.
type Config struct {
	// Database is the database holding the collections. Default: "config".
	Database string

	// ActionsCapacity caps the actions collection at this many documents when
	// EnsureCollections creates it. Default: 1000.
	ActionsCapacity int64

	// ActionsSizeBytes caps the size of the actions collection. Default: 1 MiB.
	ActionsSizeBytes int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Database:         "config",
		ActionsCapacity:  1000,
		ActionsSizeBytes: 1 << 20,
	}
}

const (
	actionsCollection      = "actions"
	alternativesCollection = "alternatives"
	profilesCollection     = "profiles"
	countersCollection     = "counters"
)

type actionDoc struct {
	ID          string `bson:"_id"`
	ActionID    string `bson:"actionid"`
	Target      string `bson:"target"`
	LogicalTime int64  `bson:"lt"`
}

type alternativeDoc struct {
	EndpointID  string `bson:"_id"`
	Config      bson.M `bson:"config"`
	LogicalTime int64  `bson:"lt"`
}

type profileDoc struct {
	ProcessID     string `bson:"_id"`
	LastHeartbeat int64  `bson:"lt"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"n"`
}

// Store is a MongoDB implementation of store.Store.
type Store struct {
	client       *mongo.Client
	config       Config
	actions      *mongo.Collection
	alternatives *mongo.Collection
	profiles     *mongo.Collection
	counters     *mongo.Collection
	ownsClient   bool
}

// New creates a store on an existing client. Close does not disconnect it.
func New(client *mongo.Client, config Config) *Store {
	defaults := DefaultConfig()
	if config.Database == "" {
		config.Database = defaults.Database
	}
	if config.ActionsCapacity <= 0 {
		config.ActionsCapacity = defaults.ActionsCapacity
	}
	if config.ActionsSizeBytes <= 0 {
		config.ActionsSizeBytes = defaults.ActionsSizeBytes
	}

	db := client.Database(config.Database)
	return &Store{
		client:       client,
		config:       config,
		actions:      db.Collection(actionsCollection),
		alternatives: db.Collection(alternativesCollection),
		profiles:     db.Collection(profilesCollection),
		counters:     db.Collection(countersCollection),
	}
}

// Open connects to uri, pings the primary and returns a store that owns the
// client.
func Open(ctx context.Context, uri string, config Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", classify(err))
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", classify(err))
	}

	s := New(client, config)
	s.ownsClient = true
	return s, nil
}

// EnsureCollections creates the capped actions collection when it does not
// exist yet. Claims overwrite lt with a value of the same size, which capped
// collections allow.
func (s *Store) EnsureCollections(ctx context.Context) error {
	db := s.client.Database(s.config.Database)
	names, err := db.ListCollectionNames(ctx, bson.M{"name": actionsCollection})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", classify(err))
	}
	if len(names) > 0 {
		return nil
	}

	opts := options.CreateCollection().
		SetCapped(true).
		SetSizeInBytes(s.config.ActionsSizeBytes).
		SetMaxDocuments(s.config.ActionsCapacity)
	if err := db.CreateCollection(ctx, actionsCollection, opts); err != nil {
		return fmt.Errorf("failed to create actions collection: %w", classify(err))
	}

	return nil
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return configsync.Unavailable(err)
	}
	return store.Classify(err)
}

func actionQuery(f store.ActionFilter) (bson.M, bool) {
	if len(f.Targets) == 0 || (f.ActionIDs != nil && len(f.ActionIDs) == 0) {
		return nil, false
	}

	q := bson.M{
		"lt":     bson.M{"$gt": max(f.After, 0)},
		"target": bson.M{"$in": f.Targets},
	}
	cond := bson.M{}
	if f.ActionIDs != nil {
		cond["$in"] = f.ActionIDs
	}
	if len(f.ExcludeActionIDs) > 0 {
		cond["$nin"] = f.ExcludeActionIDs
	}
	if len(cond) > 0 {
		q["actionid"] = cond
	}
	return q, true
}

var oldestFirst = bson.D{{Key: "lt", Value: 1}, {Key: "_id", Value: 1}}

// InsertAction writes a new action record. A record without ID gets a UUID.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	doc := actionDoc{ID: rec.ID, ActionID: rec.ActionID, Target: rec.Target, LogicalTime: rec.LogicalTime}
	if _, err := s.actions.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert action: %w", classify(err))
	}
	return nil
}

// ClaimAction zeroes the oldest matching record with a single
// findAndModify and returns the document as it was before the update.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	q, ok := actionQuery(filter)
	if !ok {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}

	opts := options.FindOneAndUpdate().
		SetSort(oldestFirst).
		SetReturnDocument(options.Before)

	var doc actionDoc
	err := s.actions.FindOneAndUpdate(ctx, q, bson.M{"$set": bson.M{"lt": int64(0)}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", classify(err))
	}

	return configsync.ActionRecord(doc), nil
}

// FindActions returns the records matching the filter ordered by logical time.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, error) {
	q, ok := actionQuery(filter)
	if !ok {
		return nil, nil
	}

	cur, err := s.actions.Find(ctx, q, options.Find().SetSort(oldestFirst))
	if err != nil {
		return nil, fmt.Errorf("failed to find actions: %w", classify(err))
	}

	var docs []actionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", classify(err))
	}

	out := make([]configsync.ActionRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, configsync.ActionRecord(doc))
	}
	return out, nil
}

// LatestActionTime returns the greatest logical time of any stored record.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "lt", Value: -1}})

	var doc actionDoc
	err := s.actions.FindOne(ctx, bson.M{"lt": bson.M{"$gt": 0}}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, configsync.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest action time: %w", classify(err))
	}

	return doc.LogicalTime, nil
}

func (d alternativeDoc) record() configsync.AlternativeRecord {
	rec := configsync.AlternativeRecord{EndpointID: d.EndpointID, LogicalTime: d.LogicalTime}
	if d.Config != nil {
		rec.Config = configsync.Config(normalize(d.Config).(map[string]any))
	}
	return rec
}

// normalize converts BSON container types into plain maps and slices.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int32:
		return int(t)
	case int64:
		if t >= math.MinInt && t <= math.MaxInt {
			return int(t)
		}
		return t
	default:
		return v
	}
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	var doc alternativeDoc
	err := s.alternatives.FindOne(ctx, bson.M{"_id": endpointID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return configsync.AlternativeRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.AlternativeRecord{}, fmt.Errorf("failed to get alternative: %w", classify(err))
	}
	return doc.record(), nil
}

// SaveAlternative replaces the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	cfg := bson.M(rec.Config.Clone())
	doc := alternativeDoc{EndpointID: rec.EndpointID, Config: cfg, LogicalTime: rec.LogicalTime}

	_, err := s.alternatives.ReplaceOne(ctx, bson.M{"_id": rec.EndpointID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save alternative: %w", classify(err))
	}
	return nil
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	if _, err := s.alternatives.DeleteOne(ctx, bson.M{"_id": endpointID}); err != nil {
		return fmt.Errorf("failed to delete alternative: %w", classify(err))
	}
	return nil
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	if len(filter.EndpointIDs) == 0 {
		return nil, nil
	}
	q := bson.M{
		"_id": bson.M{"$in": filter.EndpointIDs},
		"lt":  bson.M{"$gt": filter.After},
	}
	return s.findAlternatives(ctx, q)
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	return s.findAlternatives(ctx, bson.M{})
}

func (s *Store) findAlternatives(ctx context.Context, q bson.M) ([]configsync.AlternativeRecord, error) {
	cur, err := s.alternatives.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find alternatives: %w", classify(err))
	}

	var docs []alternativeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read alternatives: %w", classify(err))
	}

	out := make([]configsync.AlternativeRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.record())
	}
	return out, nil
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	q := bson.M{}
	if len(exclude) > 0 {
		q["_id"] = bson.M{"$nin": exclude}
	}
	n, err := s.alternatives.CountDocuments(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to count alternatives: %w", classify(err))
	}
	return int(n), nil
}

// SaveProfile upserts the profile of rec.ProcessID.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	doc := profileDoc{ProcessID: rec.ProcessID, LastHeartbeat: rec.LastHeartbeat.UnixNano()}
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": rec.ProcessID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", classify(err))
	}
	return nil
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	cur, err := s.profiles.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", classify(err))
	}

	var docs []profileDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", classify(err))
	}

	out := make([]configsync.ProfileRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, configsync.ProfileRecord{ProcessID: doc.ProcessID, LastHeartbeat: time.Unix(0, doc.LastHeartbeat)})
	}
	return out, nil
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.profiles.DeleteMany(ctx, bson.M{"lt": bson.M{"$lt": cutoff.UnixNano()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", classify(err))
	}
	return int(res.DeletedCount), nil
}

// IncrementCounter adds amount with an upserting $inc and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDoc
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": counterID}, bson.M{"$inc": bson.M{"n": amount}}, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", classify(err))
	}
	return doc.Value, nil
}

var _ store.Store = (*Store)(nil)
