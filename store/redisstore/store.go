// Package redisstore implements store.Store on Redis.
//
// Key layout (prefix configurable, default "{configsync}:", the hash tag keeps
// every key in one cluster slot):
//
//	<prefix>action:<id>      hash {action_id, target, lt}
//	<prefix>actions:pending  sorted set of "<lt as 19 digits>:<id>", lexically ordered
//	<prefix>alternatives     hash endpoint -> JSON {config, logical_time}
//	<prefix>profiles         hash process -> heartbeat in Unix nanoseconds
//	<prefix>counters         hash counter -> value
//
// Logical times are compared as zero padded strings so the full nanosecond
// precision survives both Lua and sorted-set scores.
package redisstore

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
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the default key prefix.
const DefaultPrefix = "{configsync}:"

const timeWidth = 19

// claimScript scans pending members from ARGV[1] upwards and claims the first
// record that passes the target, action and exclusion sets. Sets are passed as
// a count followed by members; a negative count means "any".
var claimScript = redis.NewScript(`
local pos = 3
local function readset()
  local n = tonumber(ARGV[pos])
  pos = pos + 1
  if n < 0 then return nil end
  local s = {}
  for i = 1, n do
    s[ARGV[pos]] = true
    pos = pos + 1
  end
  return s
end
local targets = readset()
local ids = readset()
local excluded = readset()
local members = redis.call('ZRANGEBYLEX', KEYS[1], ARGV[1], '+')
for _, m in ipairs(members) do
  local id = string.sub(m, ` + strconv.Itoa(timeWidth+2) + `)
  local key = ARGV[2] .. id
  local f = redis.call('HMGET', key, 'action_id', 'target', 'lt')
  if f[1] and f[2] and targets[f[2]] and (ids == nil or ids[f[1]]) and not (excluded ~= nil and excluded[f[1]]) then
    redis.call('ZREM', KEYS[1], m)
    redis.call('HSET', key, 'lt', '0')
    return {id, f[1], f[2], f[3]}
  end
end
return false
`)

// Store is a Redis implementation of store.Store.
type Store struct {
	client     redis.UniversalClient
	prefix     string
	ownsClient bool
}

// New creates a store on an existing client. Close does not close it.
// An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Open parses a redis:// URL, pings the server and returns a store that owns
// the client.
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", classify(err))
	}

	s := New(client, prefix)
	s.ownsClient = true
	return s, nil
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) actionKey(id string) string { return s.prefix + "action:" + id }
func (s *Store) pendingKey() string         { return s.prefix + "actions:pending" }
func (s *Store) alternativesKey() string    { return s.prefix + "alternatives" }
func (s *Store) profilesKey() string        { return s.prefix + "profiles" }
func (s *Store) countersKey() string        { return s.prefix + "counters" }

func padTime(lt int64) string {
	return fmt.Sprintf("%0*d", timeWidth, lt)
}

func pendingMember(rec configsync.ActionRecord) string {
	return padTime(rec.LogicalTime) + ":" + rec.ID
}

// minBound is the inclusive lexical lower bound for logical times after a
// watermark.
func minBound(after int64) string {
	return "[" + padTime(max(after, 0)+1)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return configsync.Unavailable(err)
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN"} {
		if strings.HasPrefix(msg, prefix) {
			return configsync.Unavailable(err)
		}
	}
	return store.Classify(err)
}

// InsertAction writes the record hash and its pending entry in one transaction.
func (s *Store) InsertAction(ctx context.Context, rec configsync.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.actionKey(rec.ID),
			"action_id", rec.ActionID,
			"target", rec.Target,
			"lt", strconv.FormatInt(rec.LogicalTime, 10),
		)
		if !rec.Claimed() {
			pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Member: pendingMember(rec)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", classify(err))
	}
	return nil
}

// setArgs renders a set for the claim script. A wildcard set matches anything.
func setArgs(values []string, wildcard bool) []any {
	if wildcard {
		return []any{-1}
	}
	out := make([]any, 0, len(values)+1)
	out = append(out, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

// ClaimAction runs the claim script, which removes the record from the pending
// set and zeroes its lt atomically.
func (s *Store) ClaimAction(ctx context.Context, filter store.ActionFilter) (configsync.ActionRecord, error) {
	if len(filter.Targets) == 0 || (filter.ActionIDs != nil && len(filter.ActionIDs) == 0) {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}

	argv := []any{minBound(filter.After), s.prefix + "action:"}
	argv = append(argv, setArgs(filter.Targets, false)...)
	argv = append(argv, setArgs(filter.ActionIDs, filter.ActionIDs == nil)...)
	argv = append(argv, setArgs(filter.ExcludeActionIDs, len(filter.ExcludeActionIDs) == 0)...)

	res, err := claimScript.Run(ctx, s.client, []string{s.pendingKey()}, argv...).StringSlice()
	if errors.Is(err, redis.Nil) {
		return configsync.ActionRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.ActionRecord{}, fmt.Errorf("failed to claim action: %w", classify(err))
	}
	if len(res) != 4 {
		return configsync.ActionRecord{}, fmt.Errorf("%w: unexpected claim reply %v", configsync.ErrMalformedRecord, res)
	}

	lt, err := strconv.ParseInt(res[3], 10, 64)
	if err != nil {
		return configsync.ActionRecord{}, fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
	}
	return configsync.ActionRecord{ID: res[0], ActionID: res[1], Target: res[2], LogicalTime: lt}, nil
}

// FindActions reads pending records after the watermark and filters them.
func (s *Store) FindActions(ctx context.Context, filter store.ActionFilter) ([]configsync.ActionRecord, error) {
	if len(filter.Targets) == 0 || (filter.ActionIDs != nil && len(filter.ActionIDs) == 0) {
		return nil, nil
	}

	members, err := s.client.ZRangeByLex(ctx, s.pendingKey(), &redis.ZRangeBy{Min: minBound(filter.After), Max: "+"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find actions: %w", classify(err))
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(members))
	ids := make([]string, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			ids[i] = m[timeWidth+1:]
			cmds[i] = pipe.HMGet(ctx, s.actionKey(ids[i]), "action_id", "target", "lt")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", classify(err))
	}

	var out []configsync.ActionRecord
	for i, cmd := range cmds {
		vals := cmd.Val()
		rec := configsync.ActionRecord{ID: ids[i]}
		rec.ActionID, _ = vals[0].(string)
		rec.Target, _ = vals[1].(string)
		ltStr, _ := vals[2].(string)
		rec.LogicalTime, _ = strconv.ParseInt(ltStr, 10, 64)
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LatestActionTime returns the greatest pending logical time.
func (s *Store) LatestActionTime(ctx context.Context) (int64, error) {
	members, err := s.client.ZRevRangeByLex(ctx, s.pendingKey(), &redis.ZRangeBy{Min: "-", Max: "+", Count: 1}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get latest action time: %w", classify(err))
	}
	if len(members) == 0 {
		return 0, configsync.ErrNotFound
	}
	lt, err := strconv.ParseInt(members[0][:timeWidth], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
	}
	return lt, nil
}

type alternativeValue struct {
	Config      json.RawMessage `json:"config"`
	LogicalTime int64           `json:"logical_time"`
}

func decodeAlternative(endpointID, raw string) (configsync.AlternativeRecord, bool) {
	var v alternativeValue
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return configsync.AlternativeRecord{}, false
	}
	rec := configsync.AlternativeRecord{EndpointID: endpointID, LogicalTime: v.LogicalTime}
	if len(v.Config) > 0 {
		rec.Config, _ = store.UnmarshalConfig(v.Config)
	}
	return rec, true
}

// GetAlternative returns the override stored for an endpoint.
func (s *Store) GetAlternative(ctx context.Context, endpointID string) (configsync.AlternativeRecord, error) {
	raw, err := s.client.HGet(ctx, s.alternativesKey(), endpointID).Result()
	if errors.Is(err, redis.Nil) {
		return configsync.AlternativeRecord{}, configsync.ErrNotFound
	}
	if err != nil {
		return configsync.AlternativeRecord{}, fmt.Errorf("failed to get alternative: %w", classify(err))
	}
	rec, ok := decodeAlternative(endpointID, raw)
	if !ok {
		return configsync.AlternativeRecord{EndpointID: endpointID}, nil
	}
	return rec, nil
}

// SaveAlternative replaces the override of rec.EndpointID.
func (s *Store) SaveAlternative(ctx context.Context, rec configsync.AlternativeRecord) error {
	cfg, err := store.MarshalConfig(rec.Config)
	if err != nil {
		return err
	}
	raw, err := store.MarshalRecord(alternativeValue{Config: cfg, LogicalTime: rec.LogicalTime})
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.alternativesKey(), rec.EndpointID, raw).Err(); err != nil {
		return fmt.Errorf("failed to save alternative: %w", classify(err))
	}
	return nil
}

// DeleteAlternative removes the override of an endpoint if present.
func (s *Store) DeleteAlternative(ctx context.Context, endpointID string) error {
	if err := s.client.HDel(ctx, s.alternativesKey(), endpointID).Err(); err != nil {
		return fmt.Errorf("failed to delete alternative: %w", classify(err))
	}
	return nil
}

// FindAlternatives returns the overrides matching the filter sorted by endpoint.
func (s *Store) FindAlternatives(ctx context.Context, filter store.AlternativeFilter) ([]configsync.AlternativeRecord, error) {
	if len(filter.EndpointIDs) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.alternativesKey(), filter.EndpointIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to find alternatives: %w", classify(err))
	}

	var out []configsync.AlternativeRecord
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, ok := decodeAlternative(filter.EndpointIDs[i], raw)
		if !ok {
			rec = configsync.AlternativeRecord{EndpointID: filter.EndpointIDs[i], LogicalTime: filter.After + 1}
		}
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b configsync.AlternativeRecord) int { return strings.Compare(a.EndpointID, b.EndpointID) })
	return out, nil
}

// ListAlternatives returns every override sorted by endpoint.
func (s *Store) ListAlternatives(ctx context.Context) ([]configsync.AlternativeRecord, error) {
	all, err := s.client.HGetAll(ctx, s.alternativesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list alternatives: %w", classify(err))
	}

	out := make([]configsync.AlternativeRecord, 0, len(all))
	for id, raw := range all {
		rec, ok := decodeAlternative(id, raw)
		if !ok {
			rec = configsync.AlternativeRecord{EndpointID: id}
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b configsync.AlternativeRecord) int { return strings.Compare(a.EndpointID, b.EndpointID) })
	return out, nil
}

// CountAlternatives counts overrides of endpoints not listed in exclude.
func (s *Store) CountAlternatives(ctx context.Context, exclude []string) (int, error) {
	keys, err := s.client.HKeys(ctx, s.alternativesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count alternatives: %w", classify(err))
	}
	n := 0
	for _, k := range keys {
		if !slices.Contains(exclude, k) {
			n++
		}
	}
	return n, nil
}

// SaveProfile upserts the profile of rec.ProcessID.
func (s *Store) SaveProfile(ctx context.Context, rec configsync.ProfileRecord) error {
	err := s.client.HSet(ctx, s.profilesKey(), rec.ProcessID, strconv.FormatInt(rec.LastHeartbeat.UnixNano(), 10)).Err()
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", classify(err))
	}
	return nil
}

// ListProfiles returns every profile sorted by process ID.
func (s *Store) ListProfiles(ctx context.Context) ([]configsync.ProfileRecord, error) {
	all, err := s.client.HGetAll(ctx, s.profilesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", classify(err))
	}

	out := make([]configsync.ProfileRecord, 0, len(all))
	for id, raw := range all {
		ns, _ := strconv.ParseInt(raw, 10, 64)
		out = append(out, configsync.ProfileRecord{ProcessID: id, LastHeartbeat: time.Unix(0, ns)})
	}
	slices.SortFunc(out, func(a, b configsync.ProfileRecord) int { return strings.Compare(a.ProcessID, b.ProcessID) })
	return out, nil
}

// DeleteProfilesBefore removes profiles whose last heartbeat precedes cutoff.
func (s *Store) DeleteProfilesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	profiles, err := s.ListProfiles(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, p := range profiles {
		if p.LastHeartbeat.Before(cutoff) {
			stale = append(stale, p.ProcessID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := s.client.HDel(ctx, s.profilesKey(), stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", classify(err))
	}
	return int(n), nil
}

// IncrementCounter adds amount with HINCRBY and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, counterID string, amount int64) (int64, error) {
	n, err := s.client.HIncrBy(ctx, s.countersKey(), counterID, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", classify(err))
	}
	return n, nil
}

var _ store.Store = (*Store)(nil)
