package config

// Detection profiles bundle per-detector thresholds. "strict" flags the
// smallest degradations, "loose" only gross failures, "normal" sits between.

var profileConfigs = map[string]map[string]map[string]any{
	"strict": {
		"blur":        {"threshold": 50.0},
		"brightness":  {"min_brightness": 30.0, "max_brightness": 220.0},
		"contrast":    {"min_contrast": 40.0},
		"color":       {"saturation_min": 15.0, "color_cast_threshold": 20.0},
		"noise":       {"threshold": 10.0},
		"stripe":      {"threshold": 0.2},
		"signal_loss": {"black_threshold": 15.0},
		"occlusion":   {"threshold": 0.2},
	},
	"normal": {
		"blur":        {"threshold": 100.0},
		"brightness":  {"min_brightness": 20.0, "max_brightness": 235.0},
		"contrast":    {"min_contrast": 30.0},
		"color":       {"saturation_min": 10.0, "color_cast_threshold": 30.0},
		"noise":       {"threshold": 30.0},
		"stripe":      {"threshold": 0.3},
		"signal_loss": {"black_threshold": 10.0},
		"occlusion":   {"threshold": 0.25},
	},
	"loose": {
		"blur":        {"threshold": 150.0},
		"brightness":  {"min_brightness": 10.0, "max_brightness": 245.0},
		"contrast":    {"min_contrast": 20.0},
		"color":       {"saturation_min": 5.0, "color_cast_threshold": 40.0},
		"noise":       {"threshold": 25.0},
		"stripe":      {"threshold": 0.4},
		"signal_loss": {"black_threshold": 5.0},
		"occlusion":   {"threshold": 0.4},
	},
}

// Profiles lists the known profile names.
func Profiles() []string {
	return []string{"strict", "normal", "loose"}
}

// ValidProfile reports whether name is a known profile.
func ValidProfile(name string) bool {
	_, ok := profileConfigs[name]
	return ok
}

// ProfileConfigs returns a deep copy of the per-detector configuration for
// the named profile. Unknown names fall back to "normal".
func ProfileConfigs(name string) map[string]map[string]any {
	p, ok := profileConfigs[name]
	if !ok {
		p = profileConfigs["normal"]
	}
	out := make(map[string]map[string]any, len(p))
	for det, cfg := range p {
		c := make(map[string]any, len(cfg))
		for k, v := range cfg {
			c[k] = v
		}
		out[det] = c
	}
	return out
}

// MergeOverrides layers custom per-detector thresholds on top of a profile.
// base is mutated and returned for convenience.
func MergeOverrides(base, overrides map[string]map[string]any) map[string]map[string]any {
	if base == nil {
		base = map[string]map[string]any{}
	}
	for det, cfg := range overrides {
		dst, ok := base[det]
		if !ok {
			dst = make(map[string]any, len(cfg))
			base[det] = dst
		}
		for k, v := range cfg {
			dst[k] = v
		}
	}
	return base
}
