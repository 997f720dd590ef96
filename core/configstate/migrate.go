package configstate

import (
	"context"

	"github.com/fleetconf/fleetconf/core/infra/logging"
)

// PropertyIndex locates the config types whose stack definitions declare a
// given property name.
type PropertyIndex interface {
	ConfigTypesForProperty(ctx context.Context, name string) ([]ConfigType, error)
}

// RelocateLegacyGlobals moves properties out of the deprecated legacy global
// namespace into the per-service type that declares them. The declaring type
// from the stack index wins; the fallback mapping covers properties the stack
// no longer declares anywhere. Unmappable properties are logged and left in
// place. The legacy bucket is removed once emptied.
//
// This is a one-time data-migration helper; the resolution engine never
// rewrites configurations on its own.
func RelocateLegacyGlobals(ctx context.Context, index PropertyIndex, configurations map[ConfigType]map[string]string, fallback map[string]ConfigType) error {
	globals := configurations[LegacyGlobalType]
	if len(globals) == 0 {
		return nil
	}
	logging.Warn("migrate", "legacy global configuration is deprecated, relocating to per-service types",
		"properties", len(globals))

	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}

	for _, name := range names {
		value := globals[name]

		declaring, err := index.ConfigTypesForProperty(ctx, name)
		if err != nil {
			return err
		}

		var target ConfigType
		for _, t := range declaring {
			if t != LegacyGlobalType {
				target = t
				break
			}
		}
		if target == "" {
			target = fallback[name]
		}
		if target == "" {
			logging.Warn("migrate", "no target type for legacy property, leaving in place",
				"property", name)
			continue
		}

		logging.Info("migrate", "relocating legacy property",
			"property", name, "target", string(target))
		delete(globals, name)
		ApplyCustomProperty(configurations, target, name, value, false)
	}

	if len(globals) == 0 {
		delete(configurations, LegacyGlobalType)
	}
	return nil
}
