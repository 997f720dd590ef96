package configstate

import "context"

// Resolver computes the effective desired tag assignment for a host: the
// cluster default per type, overlaid with any config-group overrides the
// host carries. Host-component level mappings are intentionally not
// consulted; only the cluster desired state and group overrides count.
type Resolver struct {
	state ClusterState
}

// NewResolver builds a resolver over the given cluster state.
func NewResolver(state ClusterState) *Resolver {
	return &Resolver{state: state}
}

// DesiredTags resolves the per-type TagSet for a host. Desired entries whose
// cluster-tagged record no longer exists are skipped, not treated as errors;
// a dangling desired tag just means the record was deleted underneath it.
// Lookup failures from the cluster state (unknown cluster or host) propagate.
func (r *Resolver) DesiredTags(ctx context.Context, clusterID, host string) (map[ConfigType]TagSet, error) {
	desired, err := r.state.DesiredState(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	overrides, err := r.state.GroupOverrides(ctx, clusterID, host)
	if err != nil {
		return nil, err
	}

	resolved := make(map[ConfigType]TagSet, len(desired))
	for t, tag := range desired {
		rec, err := r.state.ConfigRecord(ctx, clusterID, t, tag)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		tags := TagSet{Cluster: rec.Tag}
		if groupTags := overrides[t]; len(groupTags) > 0 {
			tags.Groups = make(map[GroupID]VersionTag, len(groupTags))
			for id, groupTag := range groupTags {
				tags.Groups[id] = groupTag
			}
		}
		resolved[t] = tags
	}
	return resolved, nil
}
