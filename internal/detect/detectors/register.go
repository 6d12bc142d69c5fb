package detectors

import "vqd/internal/detect"

// RegisterAll installs every built-in still-frame detector into the
// registry. Called once at startup.
func RegisterAll(r *detect.Registry) error {
	entries := []struct {
		name    string
		factory detect.Factory
	}{
		{"signal_loss", func(cfg map[string]any) (detect.Detector, error) { return NewSignalLossDetector(cfg) }},
		{"color", func(cfg map[string]any) (detect.Detector, error) { return NewColorDetector(cfg) }},
		{"occlusion", func(cfg map[string]any) (detect.Detector, error) { return NewOcclusionDetector(cfg) }},
		{"brightness", func(cfg map[string]any) (detect.Detector, error) { return NewBrightnessDetector(cfg) }},
		{"blur", func(cfg map[string]any) (detect.Detector, error) { return NewBlurDetector(cfg) }},
		{"noise", func(cfg map[string]any) (detect.Detector, error) { return NewNoiseDetector(cfg) }},
		{"contrast", func(cfg map[string]any) (detect.Detector, error) { return NewContrastDetector(cfg) }},
		{"stripe", func(cfg map[string]any) (detect.Detector, error) { return NewStripeDetector(cfg) }},
	}
	for _, e := range entries {
		if err := r.Register(e.name, e.factory); err != nil {
			return err
		}
	}
	return nil
}
