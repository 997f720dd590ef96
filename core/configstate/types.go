package configstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ConfigType names a namespace of related settings, e.g. "hdfs-site".
type ConfigType string

// VersionTag identifies one immutable snapshot of a ConfigType's values,
// scoped to a (cluster, type) pair.
type VersionTag string

// GroupID identifies a config group whose overrides apply to member hosts.
type GroupID int64

// LegacyGlobalType is the deprecated namespace that predates per-service
// config types. Staleness for it is decided at the property-key level
// instead of the tag level until its properties are migrated away.
const LegacyGlobalType ConfigType = "global"

// ErrNotFound marks lookups for unknown clusters, hosts, services or
// components. Collaborators wrap it so callers can errors.Is against it.
var ErrNotFound = errors.New("not_found")

// ConfigRecord is one immutable configuration snapshot. Records are never
// mutated or re-tagged after creation; (Type, Tag) is a stable key.
type ConfigRecord struct {
	Type       ConfigType                   `json:"type"`
	Tag        VersionTag                   `json:"tag"`
	Properties map[string]string            `json:"properties"`
	Attributes map[string]map[string]string `json:"attributes,omitempty"`
}

// TagSet is the resolved tag assignment for one ConfigType on one host:
// the cluster default plus zero or more group-scoped override tags.
type TagSet struct {
	Cluster VersionTag            `json:"cluster"`
	Groups  map[GroupID]VersionTag `json:"groups,omitempty"`
}

// GroupIDs returns the override group IDs in ascending order. Overrides are
// always merged in this order so the result does not depend on map iteration.
func (ts TagSet) GroupIDs() []GroupID {
	ids := make([]GroupID, 0, len(ts.Groups))
	for id := range ts.Groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Values returns all tags in the set, cluster slot first, groups ascending.
func (ts TagSet) Values() []VersionTag {
	out := make([]VersionTag, 0, 1+len(ts.Groups))
	if ts.Cluster != "" {
		out = append(out, ts.Cluster)
	}
	for _, id := range ts.GroupIDs() {
		out = append(out, ts.Groups[id])
	}
	return out
}

// ValueSet returns the unordered tag-value set, optionally without the
// cluster slot.
func (ts TagSet) ValueSet(includeCluster bool) map[VersionTag]struct{} {
	out := make(map[VersionTag]struct{}, 1+len(ts.Groups))
	if includeCluster && ts.Cluster != "" {
		out[ts.Cluster] = struct{}{}
	}
	for _, tag := range ts.Groups {
		out[tag] = struct{}{}
	}
	return out
}

// ComponentRef identifies a running component instance. It is an explicit
// value key so caches survive object reconstruction.
type ComponentRef struct {
	Cluster   string `json:"cluster"`
	Host      string `json:"host"`
	Service   string `json:"service"`
	Component string `json:"component"`
}

func (r ComponentRef) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.Cluster, r.Host, r.Service, r.Component)
}

// ClusterState exposes the persisted desired configuration of a cluster.
type ClusterState interface {
	// DesiredState returns the cluster-wide type -> tag mapping.
	DesiredState(ctx context.Context, clusterID string) (map[ConfigType]VersionTag, error)
	// ConfigRecord returns the record for (type, tag), or (nil, nil) when no
	// such record exists.
	ConfigRecord(ctx context.Context, clusterID string, t ConfigType, tag VersionTag) (*ConfigRecord, error)
	// GroupOverrides returns the config-group override tags applicable to a
	// host, keyed by type then group.
	GroupOverrides(ctx context.Context, clusterID, host string) (map[ConfigType]map[GroupID]VersionTag, error)
}

// StackMetadata answers dependency questions from the stack definition.
// Lookups for unknown services or components fail with ErrNotFound.
type StackMetadata interface {
	ServiceDependsOn(ctx context.Context, service string, t ConfigType) (bool, error)
	ComponentDependsOn(ctx context.Context, service, component string, t ConfigType) (bool, error)
	// ServiceDependsOnAnyKey reports whether the service both depends on the
	// type and declares at least one of the given property keys for it.
	ServiceDependsOnAnyKey(ctx context.Context, service string, t ConfigType, keys []string) (bool, error)
	// AnyServiceDeclaresProperty reports whether any service in the stack
	// declares a property under the type.
	AnyServiceDeclaresProperty(ctx context.Context, t ConfigType) (bool, error)
}

// ComponentState exposes what was last applied to a component instance.
type ComponentState interface {
	// ActualState returns the applied tag sets per type, or nil when nothing
	// has been deployed to the component yet.
	ActualState(ctx context.Context, ref ComponentRef) (map[ConfigType]TagSet, error)
	RestartRequired(ctx context.Context, ref ComponentRef) (bool, error)
}

// SortedTypes returns map keys in lexical order for deterministic iteration.
func SortedTypes[V any](m map[ConfigType]V) []ConfigType {
	out := make([]ConfigType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
