package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fleetconf/fleetconf/core/configstate"
)

// ComponentStore is a Redis-backed implementation of
// configstate.ComponentState plus the writer API the deployment layer uses
// to record what it applied.
type ComponentStore struct {
	client redis.UniversalClient
}

// NewComponentStore connects to Redis at the given URL.
func NewComponentStore(url string) (*ComponentStore, error) {
	client, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &ComponentStore{client: client}, nil
}

// Close closes the underlying Redis client.
func (s *ComponentStore) Close() error {
	return s.client.Close()
}

func actualKey(ref configstate.ComponentRef) string {
	return fmt.Sprintf("sch:%s:%s:%s:%s:actual", ref.Cluster, ref.Host, ref.Service, ref.Component)
}

func restartKey(ref configstate.ComponentRef) string {
	return fmt.Sprintf("sch:%s:%s:%s:%s:restart", ref.Cluster, ref.Host, ref.Service, ref.Component)
}

// ActualState returns the applied tag sets per type, or nil when nothing has
// been recorded for the component.
func (s *ComponentStore) ActualState(ctx context.Context, ref configstate.ComponentRef) (map[configstate.ConfigType]configstate.TagSet, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	data, err := s.client.Get(cctx, actualKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read actual state: %w", err)
	}
	var out map[configstate.ConfigType]configstate.TagSet
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal actual state: %w", err)
	}
	return out, nil
}

// RestartRequired reports the externally set restart flag.
func (s *ComponentStore) RestartRequired(ctx context.Context, ref configstate.ComponentRef) (bool, error) {
	cctx, cancel := opContext(ctx)
	defer cancel()
	val, err := s.client.Get(cctx, restartKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read restart flag: %w", err)
	}
	return val == "1", nil
}

// RecordActual stores the tag sets a deployment just applied.
func (s *ComponentStore) RecordActual(ctx context.Context, ref configstate.ComponentRef, actual map[configstate.ConfigType]configstate.TagSet) error {
	payload, err := json.Marshal(actual)
	if err != nil {
		return fmt.Errorf("marshal actual state: %w", err)
	}
	cctx, cancel := opContext(ctx)
	defer cancel()
	return s.client.Set(cctx, actualKey(ref), payload, 0).Err()
}

// SetRestartRequired sets or clears the restart flag.
func (s *ComponentStore) SetRestartRequired(ctx context.Context, ref configstate.ComponentRef, required bool) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	if !required {
		return s.client.Del(cctx, restartKey(ref)).Err()
	}
	return s.client.Set(cctx, restartKey(ref), "1", 0).Err()
}

// ClearActual removes the recorded actual state for a component.
func (s *ComponentStore) ClearActual(ctx context.Context, ref configstate.ComponentRef) error {
	cctx, cancel := opContext(ctx)
	defer cancel()
	return s.client.Del(cctx, actualKey(ref)).Err()
}
