package pipeline

// ModuleConfig is one named, phase-scoped module configuration entry as
// it appears in a listener, route, or operation's module set. Raw holds
// the module-specific settings; built-in modules type-assert it to
// their own struct (see builtins.go).
type ModuleConfig struct {
	Name    string
	Phase   Phase
	Raw     any
	// Disabled, when true in an overlay, clears a lower level's entry
	// of the same name instead of replacing it.
	Disabled bool
}

// ConfigSet is an ordered list of module configs, keyed by name for
// merge purposes. Order matters only for execution order within a
// phase; the merge itself is order-independent per name.
type ConfigSet []ModuleConfig

// Merge overlays route and operation module configs onto listener
// defaults, by name, with replace semantics. Precedence,
// lowest to highest: listener, route, operation.
func Merge(listener, route, operation ConfigSet) ConfigSet {
	byName := make(map[string]ModuleConfig)
	order := make([]string, 0, len(listener)+len(route)+len(operation))

	apply := func(set ConfigSet) {
		for _, cfg := range set {
			if _, exists := byName[cfg.Name]; !exists {
				order = append(order, cfg.Name)
			}
			if cfg.Disabled {
				delete(byName, cfg.Name)
				continue
			}
			byName[cfg.Name] = cfg
		}
	}

	apply(listener)
	apply(route)
	apply(operation)

	merged := make(ConfigSet, 0, len(order))
	for _, name := range order {
		if cfg, ok := byName[name]; ok {
			merged = append(merged, cfg)
		}
	}
	return merged
}

// ForPhase filters a merged ConfigSet down to the entries registered
// for a given phase, in declaration order.
func (c ConfigSet) ForPhase(phase Phase) ConfigSet {
	out := make(ConfigSet, 0, len(c))
	for _, cfg := range c {
		if cfg.Phase == phase {
			out = append(out, cfg)
		}
	}
	return out
}
