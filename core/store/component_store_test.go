package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/fleetconf/fleetconf/core/configstate"
)

var testRef = configstate.ComponentRef{
	Cluster: "c1", Host: "h1", Service: "HDFS", Component: "NAMENODE",
}

func newTestComponentStore(t *testing.T) *ComponentStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewComponentStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestActualStateRoundTrip(t *testing.T) {
	s := newTestComponentStore(t)
	ctx := context.Background()

	got, err := s.ActualState(ctx, testRef)
	if err != nil {
		t.Fatalf("actual state: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unrecorded component, got %v", got)
	}

	actual := map[configstate.ConfigType]configstate.TagSet{
		"hdfs-site": {
			Cluster: "v1",
			Groups:  map[configstate.GroupID]configstate.VersionTag{5: "g5"},
		},
		"core-site": {Cluster: "v2"},
	}
	if err := s.RecordActual(ctx, testRef, actual); err != nil {
		t.Fatalf("record actual: %v", err)
	}
	got, err = s.ActualState(ctx, testRef)
	if err != nil {
		t.Fatalf("actual state: %v", err)
	}
	if !reflect.DeepEqual(got, actual) {
		t.Fatalf("expected %v, got %v", actual, got)
	}
}

func TestActualStateIsolatedPerComponent(t *testing.T) {
	s := newTestComponentStore(t)
	ctx := context.Background()

	if err := s.RecordActual(ctx, testRef, map[configstate.ConfigType]configstate.TagSet{
		"hdfs-site": {Cluster: "v1"},
	}); err != nil {
		t.Fatalf("record actual: %v", err)
	}

	other := testRef
	other.Component = "DATANODE"
	got, err := s.ActualState(ctx, other)
	if err != nil || got != nil {
		t.Fatalf("expected sibling component unrecorded, got %v err=%v", got, err)
	}
}

func TestClearActual(t *testing.T) {
	s := newTestComponentStore(t)
	ctx := context.Background()

	if err := s.RecordActual(ctx, testRef, map[configstate.ConfigType]configstate.TagSet{
		"hdfs-site": {Cluster: "v1"},
	}); err != nil {
		t.Fatalf("record actual: %v", err)
	}
	if err := s.ClearActual(ctx, testRef); err != nil {
		t.Fatalf("clear actual: %v", err)
	}
	got, err := s.ActualState(ctx, testRef)
	if err != nil || got != nil {
		t.Fatalf("expected cleared state, got %v err=%v", got, err)
	}
}

func TestRestartFlag(t *testing.T) {
	s := newTestComponentStore(t)
	ctx := context.Background()

	required, err := s.RestartRequired(ctx, testRef)
	if err != nil || required {
		t.Fatalf("expected flag unset initially, got %v err=%v", required, err)
	}

	if err := s.SetRestartRequired(ctx, testRef, true); err != nil {
		t.Fatalf("set restart: %v", err)
	}
	required, err = s.RestartRequired(ctx, testRef)
	if err != nil || !required {
		t.Fatalf("expected flag set, got %v err=%v", required, err)
	}

	if err := s.SetRestartRequired(ctx, testRef, false); err != nil {
		t.Fatalf("clear restart: %v", err)
	}
	required, err = s.RestartRequired(ctx, testRef)
	if err != nil || required {
		t.Fatalf("expected flag cleared, got %v err=%v", required, err)
	}
}

func TestComponentStoreImplementsComponentState(t *testing.T) {
	var _ configstate.ComponentState = (*ComponentStore)(nil)
}
