// Package featureflag provides the read-only feature predicate consulted
// at hot paths. Flags are fixed at construction; the core never mutates
// them.
package featureflag

// Flags gating core behavior. Only these two are consulted on hot paths:
// disabled metrics skip emission, disabled learning skips execution
// recording. All other logic is unaffected.
const (
	PrometheusMetrics = "prometheus_metrics_enabled"
	LearningSystem    = "learning_system_enabled"
)

// Source answers whether a named feature is enabled.
type Source interface {
	Enabled(name string) bool
}

// StaticSource is a Source over a fixed map. Unknown flags default to the
// configured fallback.
type StaticSource struct {
	flags    map[string]bool
	fallback bool
}

// NewStaticSource builds a StaticSource from a flag map. Unknown flags
// report defaultEnabled.
func NewStaticSource(flags map[string]bool, defaultEnabled bool) *StaticSource {
	copied := make(map[string]bool, len(flags))
	for name, on := range flags {
		copied[name] = on
	}

	return &StaticSource{flags: copied, fallback: defaultEnabled}
}

// Enabled implements Source.
func (s *StaticSource) Enabled(name string) bool {
	if on, ok := s.flags[name]; ok {
		return on
	}

	return s.fallback
}

// AllEnabled is a Source that reports every flag as enabled.
type AllEnabled struct{}

// Enabled implements Source.
func (AllEnabled) Enabled(string) bool { return true }
