package configstate

import "context"

// DeletedPrefix marks an override key as a retraction: the suffix names a
// property to remove from the merged result instead of a value to set.
const DeletedPrefix = "DELETED_"

// MergeProperties layers override on top of base and returns a new map.
// Keys carrying the deletion prefix remove the named property; all other
// keys insert or replace. Nil maps are treated as empty.
func MergeProperties(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		deleted := len(k) >= len(DeletedPrefix) && k[:len(DeletedPrefix)] == DeletedPrefix
		name := k
		if deleted {
			name = k[len(DeletedPrefix):]
		}
		delete(merged, name)
		if !deleted {
			merged[name] = v
		}
	}
	return merged
}

// MergeAttributes deep-merges src attribute buckets into base and returns a
// new map. Existing base entries are never removed, only overwritten when src
// redeclares them.
func MergeAttributes(base, src map[string]map[string]string) map[string]map[string]string {
	merged := make(map[string]map[string]string, len(base)+len(src))
	for name, values := range base {
		bucket := make(map[string]string, len(values))
		for prop, val := range values {
			bucket[prop] = val
		}
		merged[name] = bucket
	}
	for name, values := range src {
		bucket, ok := merged[name]
		if !ok {
			bucket = make(map[string]string, len(values))
			merged[name] = bucket
		}
		for prop, val := range values {
			bucket[prop] = val
		}
	}
	return merged
}

// OverrideAttributes applies an override record's attributes on top of
// persisted and returns a new map. After the deep merge, any attribute entry
// for a property the override's property map touches is dropped unless the
// override's own attribute map explicitly redeclares it. An attribute
// inherited from a lower layer must not survive past an override that changed
// the property without re-asserting the attribute.
func OverrideAttributes(override *ConfigRecord, persisted map[string]map[string]string) map[string]map[string]string {
	if override == nil {
		return MergeAttributes(persisted, nil)
	}
	merged := MergeAttributes(persisted, override.Attributes)
	for prop := range override.Properties {
		for name, bucket := range merged {
			if values, ok := override.Attributes[name]; ok {
				if _, redeclared := values[prop]; redeclared {
					continue
				}
			}
			delete(bucket, prop)
		}
	}
	return merged
}

// EffectiveProperties computes the merged property map per type for a
// resolved tag mapping. Each type starts from the cluster-tagged record
// (empty when that record is missing) and applies MergeProperties once per
// group slot, in ascending group order.
func EffectiveProperties(ctx context.Context, state ClusterState, clusterID string, desired map[ConfigType]TagSet) (map[ConfigType]map[string]string, error) {
	out := make(map[ConfigType]map[string]string, len(desired))
	for t, tags := range desired {
		props := map[string]string{}
		if tags.Cluster != "" {
			rec, err := state.ConfigRecord(ctx, clusterID, t, tags.Cluster)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				props = MergeProperties(rec.Properties, nil)
			}
		}
		for _, id := range tags.GroupIDs() {
			rec, err := state.ConfigRecord(ctx, clusterID, t, tags.Groups[id])
			if err != nil {
				return nil, err
			}
			if rec != nil {
				props = MergeProperties(props, rec.Properties)
			}
		}
		out[t] = props
	}
	return out, nil
}

// EffectiveAttributes is the attribute counterpart of EffectiveProperties,
// applying OverrideAttributes once per group slot.
func EffectiveAttributes(ctx context.Context, state ClusterState, clusterID string, desired map[ConfigType]TagSet) (map[ConfigType]map[string]map[string]string, error) {
	out := make(map[ConfigType]map[string]map[string]string, len(desired))
	for t, tags := range desired {
		attrs := map[string]map[string]string{}
		if tags.Cluster != "" {
			rec, err := state.ConfigRecord(ctx, clusterID, t, tags.Cluster)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				attrs = MergeAttributes(nil, rec.Attributes)
			}
		}
		for _, id := range tags.GroupIDs() {
			rec, err := state.ConfigRecord(ctx, clusterID, t, tags.Groups[id])
			if err != nil {
				return nil, err
			}
			if rec != nil {
				attrs = OverrideAttributes(rec, attrs)
			}
		}
		out[t] = attrs
	}
	return out, nil
}

// ApplyCustomProperty sets a property in a {type -> properties} accumulation,
// or marks it deleted so a later MergeProperties retracts it.
func ApplyCustomProperty(configurations map[ConfigType]map[string]string, t ConfigType, name, value string, deleted bool) {
	props, ok := configurations[t]
	if !ok {
		props = map[string]string{}
		configurations[t] = props
	}
	if deleted {
		name = DeletedPrefix + name
	}
	props[name] = value
}
