// Package etcdstore implements store.Store on etcd v3.
//
// All keys live under a namespace (default "configsync/"):
//
//	actions/<lt as 19 digits>/<id>   pending action, JSON
//	claimed/<id>                     claimed action, JSON with logical_time 0
//	alternatives/<endpoint>          JSON {config, logical_time}
//	profiles/<process>               heartbeat in Unix nanoseconds
//	counters/<id>                    decimal value
//
// Claims and counter increments are compare-and-swap transactions on the
// key's mod revision.
package etcdstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/google/uuid"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
)

// DefaultNamespace is the default key namespace.
const DefaultNamespace = "configsync/"

const (
	actionsPrefix      = "actions/"
	claimedPrefix      = "claimed/"
	alternativesPrefix = "alternatives/"
	profilesPrefix     = "profiles/"
	countersPrefix     = "counters/"
	timeWidth          = 19
)

// Config configures an etcd connection.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
	Namespace   string
}

// DefaultConfig returns a configuration for a local single node.
func DefaultConfig() Config {
	return Config{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 5 * time.Second,
		Namespace:   DefaultNamespace,
	}
}

// Store is an etcd implementation of store.Store.
type Store struct {
	client *clientv3.Client
	kv     clientv3.KV
}

// New creates a store on an existing client. Close does not close it.
func New(client *clientv3.Client, ns string) *Store {
	return &Store{kv: namespace.NewKV(client.KV, normalizeNamespace(ns))}
}

// Open dials etcd, checks the first endpoint and returns a store that owns the
// client.
func Open(ctx context.Context, config Config) (*Store, error) {
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one etcd endpoint is required")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		Username:    config.Username,
		Password:    config.Password,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", classify(err))
	}

	statusCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if _, err := client.Status(statusCtx, config.Endpoints[0]); err != nil {
		if cerr := client.Close(); cerr != nil {
			return nil, errors.Join(err, fmt.Errorf("failed to close etcd client: %w", cerr))
		}
		return nil, fmt.Errorf("failed to connect to etcd: %w", classify(err))
	}

	s := New(client, config.Namespace)
	s.client = client
	return s, nil
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	if !strings.HasSuffix(ns, "/") {
		ns += "/"
	}
	return ns
}

func padTime(lt int64) string {
	return fmt.Sprintf("%0*d", timeWidth, lt)
}

func actionKey(rec configsync.ActionRecord) string {
	return actionsPrefix + padTime(rec.LogicalTime) + "/" + rec.ID
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, rpctypes.ErrNoLeader),
		errors.Is(err, rpctypes.ErrLeaderChanged),
		errors.Is(err, rpctypes.ErrStopped),
		errors.Is(err, rpctypes.ErrTimeout),
		errors.Is(err, rpctypes.ErrTimeoutDueToLeaderFail),
		errors.Is(err, rpctypes.ErrTimeoutDueToConnectionLost),
		errors.Is(err, rpctypes.ErrUnhealthy),
		errors.Is(err, rpctypes.ErrTooManyRequests),
		errors.Is(err, clientv3.ErrNoAvailableEndpoints):
		return configsync.Unavailable(err)
	}
	return store.Classify(err)
}

// InsertAction stores a pending action, or a claimed one when its logical time
// is zero.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	payload, err := store.MarshalRecord(rec)
	if err != nil {
		return err
	}

	key := actionKey(rec)
	if rec.Claimed() {
		key = claimedPrefix + rec.ID
	}
	if _, err := s.kv.Put(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("failed to insert action: %w", classify(err))
	}
	return nil
}

// pending returns the pending actions after the watermark with their mod
// revisions, oldest first.
func (s *Store) pending(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, []int64, error) {
	from := actionsPrefix + padTime(max(filter.After, 0)+1)
	resp, err := s.kv.Get(ctx, from, clientv3.WithRange(clientv3.GetPrefixRangeEnd(actionsPrefix)))
	if err != nil {
		return nil, nil, classify(err)
	}

	var (
		recs []configsync.ActionRecord
		revs []int64
	)
	for _, kv := range resp.Kvs {
		var rec configsync.ActionRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			continue
		}
		if filter.Matches(rec) {
			recs = append(recs, rec)
			revs = append(revs, kv.ModRevision)
		}
	}
	return recs, revs, nil
}

// ClaimAction moves the oldest matching pending action to the claimed prefix.
// A transaction that loses the race rescans.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	for {
		recs, revs, err := s.pending(ctx, filter)
		if err != nil {
			return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", err)
		}
		if len(recs) == 0 {
			return configsync.ActionRecord{}, configsync.ErrNotFound
		}

		rec := recs[0]
		claimed := rec
		claimed.LogicalTime = 0
		payload, err := store.MarshalRecord(claimed)
		if err != nil {
			return configsync.ActionRecord{}, err
		}

		key := actionKey(rec)
		resp, err := s.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", revs[0])).
			Then(clientv3.OpDelete(key), clientv3.OpPut(claimedPrefix+rec.ID, string(payload))).
			Commit()
		if err != nil {
			return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", classify(err))
		}
		if resp.Succeeded {
			return rec, nil
		}
		if err := ctx.Err(); err != nil {
			return configsync.ActionRecord{}, err
		}
	}
}

// FindActions returns matching pending actions, oldest first.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, error) {
	recs, _, err := s.pending(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find actions: %w", err)
	}
	return recs, nil
}

// LatestActionTime returns the greatest pending logical time.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	resp, err := s.kv.Get(ctx, actionsPrefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortDescend),
		clientv3.WithLimit(1),
		clientv3.WithKeysOnly(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest action time: %w", classify(err))
	}
	if len(resp.Kvs) == 0 {
		return 0, configsync.ErrNotFound
	}

	rest := strings.TrimPrefix(string(resp.Kvs[0].Key), actionsPrefix)
	if len(rest) < timeWidth {
		return 0, fmt.Errorf("%w: action key %q", configsync.ErrMalformedRecord, resp.Kvs[0].Key)
	}
	lt, err := strconv.ParseInt(rest[:timeWidth], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
	}
	return lt, nil
}

type alternativeValue struct {
	Config      json.RawMessage `json:"config"`
	LogicalTime int64           `json:"logical_time"`
}

func decodeAlternative(endpointID string, raw []byte) configsync.AlternativeRecord {
	rec := configsync.AlternativeRecord{EndpointID: endpointID}
	var v alternativeValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return rec
	}
	rec.LogicalTime = v.LogicalTime
	if len(v.Config) > 0 {
		rec.Config, _ = store.UnmarshalConfig(v.Config)
	}
	return rec
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	resp, err := s.kv.Get(ctx, alternativesPrefix+endpointID)
	if err != nil {
		return configsync.AlternativeRecord{}, fmt.Errorf("failed to get alternative: %w", classify(err))
	}
	if len(resp.Kvs) == 0 {
		return configsync.AlternativeRecord{}, configsync.ErrNotFound
	}
	return decodeAlternative(endpointID, resp.Kvs[0].Value), nil
}

// SaveAlternative replaces the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	cfg, err := store.MarshalConfig(rec.Config)
	if err != nil {
		return err
	}
	payload, err := store.MarshalRecord(alternativeValue{Config: cfg, LogicalTime: rec.LogicalTime})
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, alternativesPrefix+rec.EndpointID, string(payload)); err != nil {
		return fmt.Errorf("failed to save alternative: %w", classify(err))
	}
	return nil
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	if _, err := s.kv.Delete(ctx, alternativesPrefix+endpointID); err != nil {
		return fmt.Errorf("failed to delete alternative: %w", classify(err))
	}
	return nil
}

func (s *Store) allAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	resp, err := s.kv.Get(ctx, alternativesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, classify(err)
	}

	out := make([]configsync.AlternativeRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), alternativesPrefix)
		out = append(out, decodeAlternative(id, kv.Value))
	}
	return out, nil
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	if len(filter.EndpointIDs) == 0 {
		return nil, nil
	}

	all, err := s.allAlternatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find alternatives: %w", err)
	}

	var out []configsync.AlternativeRecord
	for _, rec := range all {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	all, err := s.allAlternatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alternatives: %w", err)
	}
	return all, nil
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	resp, err := s.kv.Get(ctx, alternativesPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return 0, fmt.Errorf("failed to count alternatives: %w", classify(err))
	}

	n := 0
	for _, kv := range resp.Kvs {
		if !slices.Contains(exclude, strings.TrimPrefix(string(kv.Key), alternativesPrefix)) {
			n++
		}
	}
	return n, nil
}

// SaveProfile upserts the profile of rec.ProcessID.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	_, err := s.kv.Put(ctx, profilesPrefix+rec.ProcessID, strconv.FormatInt(rec.LastHeartbeat.UnixNano(), 10))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", classify(err))
	}
	return nil
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	resp, err := s.kv.Get(ctx, profilesPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", classify(err))
	}

	out := make([]configsync.ProfileRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ns, _ := strconv.ParseInt(string(kv.Value), 10, 64)
		out = append(out, configsync.ProfileRecord{
			ProcessID:     strings.TrimPrefix(string(kv.Key), profilesPrefix),
			LastHeartbeat: time.Unix(0, ns),
		})
	}
	return out, nil
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
// A profile refreshed between the scan and the delete is kept.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	resp, err := s.kv.Get(ctx, profilesPrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list profiles: %w", classify(err))
	}

	deleted := 0
	for _, kv := range resp.Kvs {
		ns, _ := strconv.ParseInt(string(kv.Value), 10, 64)
		if !time.Unix(0, ns).Before(cutoff) {
			continue
		}
		key := string(kv.Key)
		txn, err := s.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpDelete(key)).
			Commit()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete profile: %w", classify(err))
		}
		if txn.Succeeded {
			deleted++
		}
	}
	return deleted, nil
}

// IncrementCounter adds amount to the counter and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	key := countersPrefix + counterID
	for {
		resp, err := s.kv.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("failed to read counter: %w", classify(err))
		}

		var (
			current int64
			rev     int64
		)
		if len(resp.Kvs) > 0 {
			rev = resp.Kvs[0].ModRevision
			current, err = strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: counter %q: %w", configsync.ErrMalformedRecord, counterID, err)
			}
		}

		next := current + amount
		txn, err := s.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, strconv.FormatInt(next, 10))).
			Commit()
		if err != nil {
			return 0, fmt.Errorf("failed to increment counter: %w", classify(err))
		}
		if txn.Succeeded {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
}

var _ store.Store = (*Store)(nil)
