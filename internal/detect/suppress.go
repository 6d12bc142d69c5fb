package detect

import "sync"

// SuppressedIssue records an abnormal issue that was masked by a
// higher-priority one.
type SuppressedIssue struct {
	IssueType    string `json:"issue_type"`
	DetectorName string `json:"detector_name"`
	SuppressedBy string `json:"suppressed_by"`
}

// Suppressor decides which abnormal issues are root causes and which are
// side effects. Rules map a triggering issue type onto the issue types it
// masks; e.g. a lost signal makes darkness and blur findings meaningless.
type Suppressor struct {
	mu    sync.RWMutex
	rules map[string][]string
}

// defaultSuppressionRules covers the causal chains between the built-in
// detectors.
func defaultSuppressionRules() map[string][]string {
	return map[string][]string{
		"signal_loss":  {"too_dark", "blur", "low_contrast", "no_texture", "noise"},
		"black_screen": {"too_dark", "blur", "low_contrast", "no_texture", "noise"},
		"blue_screen":  {"color_cast", "low_contrast", "low_saturation"},
		"green_screen": {"color_cast", "low_contrast", "low_saturation"},
		"snow_noise":   {"blur", "noise"},
		"occlusion":    {"partial_blur", "blur"},
	}
}

// NewSuppressor builds a suppressor with the default rule table.
func NewSuppressor() *Suppressor {
	return &Suppressor{rules: defaultSuppressionRules()}
}

// AddRule installs or extends the rule for a triggering issue type. Targets
// already present are not duplicated.
func (s *Suppressor) AddRule(trigger string, targets ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.rules[trigger]
	for _, t := range targets {
		dup := false
		for _, e := range existing {
			if e == t {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, t)
		}
	}
	s.rules[trigger] = existing
}

// RemoveRule deletes the rule for a triggering issue type.
func (s *Suppressor) RemoveRule(trigger string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, trigger)
}

// Rules returns a copy of the current rule table.
func (s *Suppressor) Rules() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(s.rules))
	for k, v := range s.rules {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Apply walks findings already sorted by priority and splits the abnormal
// ones into active issues and issues masked by an earlier active issue.
// Whoever acts first wins: once an issue type is masked it cannot mask
// others itself.
func (s *Suppressor) Apply(findings []Finding) (active []Finding, suppressed []SuppressedIssue) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	masked := make(map[string]string) // issue type -> suppressing issue type
	for _, f := range findings {
		if !f.IsAbnormal {
			continue
		}
		if by, ok := masked[f.IssueType]; ok {
			suppressed = append(suppressed, SuppressedIssue{
				IssueType:    f.IssueType,
				DetectorName: f.DetectorName,
				SuppressedBy: by,
			})
			continue
		}
		active = append(active, f)
		for _, target := range s.rules[f.IssueType] {
			if _, ok := masked[target]; !ok {
				masked[target] = f.IssueType
			}
		}
	}
	return active, suppressed
}
