package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fleetconf/fleetconf/core/configstate"
	"github.com/fleetconf/fleetconf/core/infra/redisutil"
)

const (
	defaultRedisURL = "redis://localhost:6379"
	opTimeout       = 2 * time.Second
)

// ErrRecordExists rejects writes that would overwrite an existing record.
// (type, tag) is a stable key; records are never re-tagged or mutated.
var ErrRecordExists = errors.New("config record already exists")

// ClusterStore is a Redis-backed implementation of configstate.ClusterState
// plus the writer API the excluded management surface needs.
type ClusterStore struct {
	client redis.UniversalClient
}

// NewClusterStore connects to Redis at the given URL.
func NewClusterStore(url string) (*ClusterStore, error) {
	client, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &ClusterStore{client: client}, nil
}

func connect(url string) (redis.UniversalClient, error) {
	if url == "" {
		url = defaultRedisURL
	}
	client, err := redisutil.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
}

// Close closes the underlying Redis client.
func (s *ClusterStore) Close() error {
	return s.client.Close()
}

func desiredKey(clusterID string) string {
	return fmt.Sprintf("cfg:%s:desired", clusterID)
}

func recordKey(clusterID string, t configstate.ConfigType, tag configstate.VersionTag) string {
	return fmt.Sprintf("cfg:%s:rec:%s:%s", clusterID, t, tag)
}

func overridesKey(clusterID, host string) string {
	return fmt.Sprintf("cfg:%s:ov:%s", clusterID, host)
}

// DesiredState returns the cluster-wide type -> tag mapping.
func (s *ClusterStore) DesiredState(ctx context.Context, clusterID string) (map[configstate.ConfigType]configstate.VersionTag, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	raw, err := s.client.HGetAll(cctx, desiredKey(clusterID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read desired state: %w", err)
	}
	out := make(map[configstate.ConfigType]configstate.VersionTag, len(raw))
	for t, tag := range raw {
		out[configstate.ConfigType(t)] = configstate.VersionTag(tag)
	}
	return out, nil
}

// ConfigRecord returns the record for (type, tag), or (nil, nil) when no
// such record exists.
func (s *ClusterStore) ConfigRecord(ctx context.Context, clusterID string, t configstate.ConfigType, tag configstate.VersionTag) (*configstate.ConfigRecord, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	data, err := s.client.Get(cctx, recordKey(clusterID, t, tag)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config record: %w", err)
	}
	var rec configstate.ConfigRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal config record: %w", err)
	}
	return &rec, nil
}

// GroupOverrides returns the config-group override tags applicable to a host.
func (s *ClusterStore) GroupOverrides(ctx context.Context, clusterID, host string) (map[configstate.ConfigType]map[configstate.GroupID]configstate.VersionTag, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	data, err := s.client.Get(cctx, overridesKey(clusterID, host)).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[configstate.ConfigType]map[configstate.GroupID]configstate.VersionTag{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group overrides: %w", err)
	}
	var out map[configstate.ConfigType]map[configstate.GroupID]configstate.VersionTag
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal group overrides: %w", err)
	}
	return out, nil
}

// NewVersionTag mints a fresh opaque version tag.
func NewVersionTag() configstate.VersionTag {
	return configstate.VersionTag("version-" + uuid.NewString())
}

// PutRecord validates and persists a config record. A record with an empty
// tag gets a generated one; the possibly updated record is returned. Writing
// over an existing (type, tag) fails with ErrRecordExists.
func (s *ClusterStore) PutRecord(ctx context.Context, clusterID string, rec *configstate.ConfigRecord) (*configstate.ConfigRecord, error) {
	if rec == nil || rec.Type == "" {
		return nil, errors.New("record type required")
	}
	stored := *rec
	if stored.Tag == "" {
		stored.Tag = NewVersionTag()
	}
	if stored.Properties == nil {
		stored.Properties = map[string]string{}
	}
	if err := validateRecord(&stored); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	ok, err := s.client.SetNX(cctx, recordKey(clusterID, stored.Type, stored.Tag), payload, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("write config record: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", stored.Type, stored.Tag, ErrRecordExists)
	}
	return &stored, nil
}

// SetDesiredTag points the cluster default for a type at a tag.
func (s *ClusterStore) SetDesiredTag(ctx context.Context, clusterID string, t configstate.ConfigType, tag configstate.VersionTag) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	return s.client.HSet(cctx, desiredKey(clusterID), string(t), string(tag)).Err()
}

// SetGroupOverrides replaces a host's group override mapping.
func (s *ClusterStore) SetGroupOverrides(ctx context.Context, clusterID, host string, overrides map[configstate.ConfigType]map[configstate.GroupID]configstate.VersionTag) error {
	payload, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("marshal group overrides: %w", err)
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	return s.client.Set(cctx, overridesKey(clusterID, host), payload, 0).Err()
}

// RemoveRecordsByType deletes every record of a type in the cluster. Used by
// the legacy-global migration once the namespace is fully relocated.
func (s *ClusterStore) RemoveRecordsByType(ctx context.Context, clusterID string, t configstate.ConfigType) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	pattern := recordKey(clusterID, t, "*")
	iter := s.client.Scan(cctx, 0, pattern, 0).Iterator()
	for iter.Next(cctx) {
		if err := s.client.Del(cctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete config record: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan config records: %w", err)
	}
	return nil
}
