package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/fleetconf/fleetconf/core/configstate"
)

func newTestClusterStore(t *testing.T) *ClusterStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewClusterStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDesiredStateRoundTrip(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	got, err := s.DesiredState(ctx, "c1")
	if err != nil {
		t.Fatalf("desired state: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty desired state, got %v", got)
	}

	if err := s.SetDesiredTag(ctx, "c1", "hdfs-site", "v1"); err != nil {
		t.Fatalf("set desired: %v", err)
	}
	if err := s.SetDesiredTag(ctx, "c1", "core-site", "v3"); err != nil {
		t.Fatalf("set desired: %v", err)
	}
	// repointing a type replaces its tag
	if err := s.SetDesiredTag(ctx, "c1", "hdfs-site", "v2"); err != nil {
		t.Fatalf("set desired: %v", err)
	}

	got, err = s.DesiredState(ctx, "c1")
	if err != nil {
		t.Fatalf("desired state: %v", err)
	}
	want := map[configstate.ConfigType]configstate.VersionTag{
		"hdfs-site": "v2",
		"core-site": "v3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPutRecordRoundTrip(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	rec := &configstate.ConfigRecord{
		Type:       "hdfs-site",
		Tag:        "v1",
		Properties: map[string]string{"dfs.replication": "3"},
		Attributes: map[string]map[string]string{"final": {"dfs.replication": "true"}},
	}
	stored, err := s.PutRecord(ctx, "c1", rec)
	if err != nil {
		t.Fatalf("put record: %v", err)
	}
	if stored.Tag != "v1" {
		t.Fatalf("expected caller tag kept, got %q", stored.Tag)
	}

	got, err := s.ConfigRecord(ctx, "c1", "hdfs-site", "v1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !reflect.DeepEqual(got, stored) {
		t.Fatalf("expected %v, got %v", stored, got)
	}
}

func TestConfigRecordMissing(t *testing.T) {
	s := newTestClusterStore(t)
	got, err := s.ConfigRecord(context.Background(), "c1", "hdfs-site", "ghost")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got != nil {
		t.Fatalf("expected (nil, nil) for missing record, got %v", got)
	}
}

func TestPutRecordImmutable(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	rec := &configstate.ConfigRecord{Type: "hdfs-site", Tag: "v1", Properties: map[string]string{"a": "1"}}
	if _, err := s.PutRecord(ctx, "c1", rec); err != nil {
		t.Fatalf("put record: %v", err)
	}
	rec.Properties["a"] = "2"
	if _, err := s.PutRecord(ctx, "c1", rec); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("expected ErrRecordExists, got %v", err)
	}
}

func TestPutRecordGeneratesTag(t *testing.T) {
	s := newTestClusterStore(t)

	stored, err := s.PutRecord(context.Background(), "c1", &configstate.ConfigRecord{Type: "hdfs-site"})
	if err != nil {
		t.Fatalf("put record: %v", err)
	}
	if !strings.HasPrefix(string(stored.Tag), "version-") {
		t.Fatalf("expected generated tag, got %q", stored.Tag)
	}
	got, err := s.ConfigRecord(context.Background(), "c1", "hdfs-site", stored.Tag)
	if err != nil || got == nil {
		t.Fatalf("expected stored record retrievable, got %v err=%v", got, err)
	}
}

func TestPutRecordRejectsInvalid(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	if _, err := s.PutRecord(ctx, "c1", nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	if _, err := s.PutRecord(ctx, "c1", &configstate.ConfigRecord{Tag: "v1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestGroupOverridesRoundTrip(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	got, err := s.GroupOverrides(ctx, "c1", "h1")
	if err != nil {
		t.Fatalf("group overrides: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty overrides, got %v", got)
	}

	overrides := map[configstate.ConfigType]map[configstate.GroupID]configstate.VersionTag{
		"hdfs-site": {5: "g5", 3: "g3"},
	}
	if err := s.SetGroupOverrides(ctx, "c1", "h1", overrides); err != nil {
		t.Fatalf("set overrides: %v", err)
	}
	got, err = s.GroupOverrides(ctx, "c1", "h1")
	if err != nil {
		t.Fatalf("group overrides: %v", err)
	}
	if !reflect.DeepEqual(got, overrides) {
		t.Fatalf("expected %v, got %v", overrides, got)
	}
}

func TestRemoveRecordsByType(t *testing.T) {
	s := newTestClusterStore(t)
	ctx := context.Background()

	for _, tag := range []configstate.VersionTag{"v1", "v2"} {
		rec := &configstate.ConfigRecord{Type: "global", Tag: tag, Properties: map[string]string{}}
		if _, err := s.PutRecord(ctx, "c1", rec); err != nil {
			t.Fatalf("put record: %v", err)
		}
	}
	keep := &configstate.ConfigRecord{Type: "hdfs-site", Tag: "v1", Properties: map[string]string{}}
	if _, err := s.PutRecord(ctx, "c1", keep); err != nil {
		t.Fatalf("put record: %v", err)
	}

	if err := s.RemoveRecordsByType(ctx, "c1", "global"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, tag := range []configstate.VersionTag{"v1", "v2"} {
		got, err := s.ConfigRecord(ctx, "c1", "global", tag)
		if err != nil || got != nil {
			t.Fatalf("expected global/%s removed, got %v err=%v", tag, got, err)
		}
	}
	got, err := s.ConfigRecord(ctx, "c1", "hdfs-site", "v1")
	if err != nil || got == nil {
		t.Fatalf("expected unrelated record kept, got %v err=%v", got, err)
	}
}

func TestClusterStoreImplementsClusterState(t *testing.T) {
	var _ configstate.ClusterState = (*ClusterStore)(nil)
}

func TestNewClusterStoreBadURL(t *testing.T) {
	if _, err := NewClusterStore("redis://127.0.0.1:1"); err == nil {
		t.Fatalf("expected connect error")
	}
}
