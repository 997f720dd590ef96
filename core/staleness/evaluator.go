// Package staleness decides whether a running component's applied
// configuration has drifted from the cluster's desired state in a way that
// matters to that component.
package staleness

import (
	"context"

	"github.com/fleetconf/fleetconf/core/configstate"
)

// Checker is the entry point shared by the evaluator and its cache.
type Checker interface {
	IsStale(ctx context.Context, ref configstate.ComponentRef) (bool, error)
}

// Evaluator compares desired against actual configuration per type. It holds
// no state of its own and is safe for concurrent use; individual evaluations
// are independent and may run fully in parallel.
type Evaluator struct {
	state    configstate.ClusterState
	stack    configstate.StackMetadata
	comps    configstate.ComponentState
	resolver *configstate.Resolver
}

// NewEvaluator wires the evaluator to its three collaborators.
func NewEvaluator(state configstate.ClusterState, stack configstate.StackMetadata, comps configstate.ComponentState) *Evaluator {
	return &Evaluator{
		state:    state,
		stack:    stack,
		comps:    comps,
		resolver: configstate.NewResolver(state),
	}
}

// IsStale reports whether the component's applied configuration is out of
// date. Per desired type the verdict is:
//
//   - type absent from actual state: not stale unless the service or
//     component depends on it; the legacy global namespace additionally
//     checks declared property keys before flagging.
//   - type present: not stale when the desired and actual tag-value sets
//     match (ignoring the cluster slot once group-specific records govern
//     the type); on a mismatch, the legacy namespace compares merged
//     property values key by key, every other type is stale as soon as a
//     dependency on it is declared.
//
// A set restart-required flag is always stale; a component with no recorded
// actual state is never stale, since absence of deployment is not drift.
func (e *Evaluator) IsStale(ctx context.Context, ref configstate.ComponentRef) (bool, error) {
	restart, err := e.comps.RestartRequired(ctx, ref)
	if err != nil {
		return false, err
	}
	if restart {
		return true, nil
	}

	actual, err := e.comps.ActualState(ctx, ref)
	if err != nil {
		return false, err
	}
	if len(actual) == 0 {
		return false, nil
	}

	desired, err := e.resolver.DesiredTags(ctx, ref.Cluster, ref.Host)
	if err != nil {
		return false, err
	}

	for _, t := range configstate.SortedTypes(desired) {
		stale, err := e.evalType(ctx, ref, t, desired[t], actual)
		if err != nil {
			return false, err
		}
		if stale {
			return true, nil
		}
	}
	return false, nil
}

func (e *Evaluator) evalType(ctx context.Context, ref configstate.ComponentRef, t configstate.ConfigType, desired configstate.TagSet, actual map[configstate.ConfigType]configstate.TagSet) (bool, error) {
	actualTags, applied := actual[t]
	if !applied {
		return e.evalUnapplied(ctx, ref, t, desired)
	}

	groupSpecific, err := e.hasGroupRecords(ctx, ref.Cluster, ref.Host, t)
	if err != nil {
		return false, err
	}
	// Once group-specific records govern the type, cluster-level tag drift
	// is irrelevant: only the override slots are compared.
	if !tagsChanged(desired, actualTags, groupSpecific) {
		return false, nil
	}

	if t == configstate.LegacyGlobalType {
		changed, err := e.changedKeys(ctx, ref.Cluster, t, desired, actualTags)
		if err != nil {
			return false, err
		}
		return e.stack.ServiceDependsOnAnyKey(ctx, ref.Service, t, changed)
	}

	svcDep, err := e.stack.ServiceDependsOn(ctx, ref.Service, t)
	if err != nil {
		return false, err
	}
	if svcDep {
		return true, nil
	}
	return e.stack.ComponentDependsOn(ctx, ref.Service, ref.Component, t)
}

// evalUnapplied handles a desired type with no recorded actual state.
func (e *Evaluator) evalUnapplied(ctx context.Context, ref configstate.ComponentRef, t configstate.ConfigType, desired configstate.TagSet) (bool, error) {
	svcDep, err := e.stack.ServiceDependsOn(ctx, ref.Service, t)
	if err != nil {
		return false, err
	}
	compDep, err := e.stack.ComponentDependsOn(ctx, ref.Service, ref.Component, t)
	if err != nil {
		return false, err
	}
	if !svcDep && !compDep {
		return false, nil
	}

	if t == configstate.LegacyGlobalType {
		// Key-level check: the union of keys across every record the desired
		// set names, matched against the service's declared properties. An
		// entirely undeclared legacy type also counts as stale, so drift is
		// caught before its properties are migrated into per-service types.
		keys, err := e.mergedKeyNames(ctx, ref.Cluster, t, desired)
		if err != nil {
			return false, err
		}
		anyKey, err := e.stack.ServiceDependsOnAnyKey(ctx, ref.Service, t, keys)
		if err != nil {
			return false, err
		}
		if anyKey {
			return true, nil
		}
		declared, err := e.stack.AnyServiceDeclaresProperty(ctx, t)
		if err != nil {
			return false, err
		}
		return !declared, nil
	}
	return true, nil
}

// hasGroupRecords reports whether any config group assigned to the host has
// an existing record for the type.
func (e *Evaluator) hasGroupRecords(ctx context.Context, clusterID, host string, t configstate.ConfigType) (bool, error) {
	overrides, err := e.state.GroupOverrides(ctx, clusterID, host)
	if err != nil {
		return false, err
	}
	for _, tag := range overrides[t] {
		rec, err := e.state.ConfigRecord(ctx, clusterID, t, tag)
		if err != nil {
			return false, err
		}
		if rec != nil {
			return true, nil
		}
	}
	return false, nil
}

// tagsChanged compares the two tag-value sets, ignoring slot labels. With
// group-specific records the cluster slot is excluded from both sides first.
func tagsChanged(desired, actual configstate.TagSet, groupSpecific bool) bool {
	includeCluster := !groupSpecific
	desiredSet := desired.ValueSet(includeCluster)
	actualSet := actual.ValueSet(includeCluster)
	if len(desiredSet) != len(actualSet) {
		return true
	}
	for tag := range desiredSet {
		if _, ok := actualSet[tag]; !ok {
			return true
		}
	}
	return false
}

// changedKeys returns the property keys whose merged effective value differs
// between the desired and actual tag sets: present on one side only, or
// present on both with different values.
func (e *Evaluator) changedKeys(ctx context.Context, clusterID string, t configstate.ConfigType, desired, actual configstate.TagSet) ([]string, error) {
	desiredProps, err := e.mergedProperties(ctx, clusterID, t, desired)
	if err != nil {
		return nil, err
	}
	actualProps, err := e.mergedProperties(ctx, clusterID, t, actual)
	if err != nil {
		return nil, err
	}

	var keys []string
	for key, value := range desiredProps {
		if actualValue, ok := actualProps[key]; !ok || actualValue != value {
			keys = append(keys, key)
		}
	}
	for key := range actualProps {
		if _, ok := desiredProps[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (e *Evaluator) mergedProperties(ctx context.Context, clusterID string, t configstate.ConfigType, tags configstate.TagSet) (map[string]string, error) {
	merged, err := configstate.EffectiveProperties(ctx, e.state, clusterID, map[configstate.ConfigType]configstate.TagSet{t: tags})
	if err != nil {
		return nil, err
	}
	return merged[t], nil
}

// mergedKeyNames unions the property keys of every record the tag set names.
func (e *Evaluator) mergedKeyNames(ctx context.Context, clusterID string, t configstate.ConfigType, tags configstate.TagSet) ([]string, error) {
	seen := map[string]struct{}{}
	for _, tag := range tags.Values() {
		rec, err := e.state.ConfigRecord(ctx, clusterID, t, tag)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		for key := range rec.Properties {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys, nil
}
