//go:build !linux

package monitor

// DefaultSource returns the process source used when none is configured.
func DefaultSource() ProcessSource {
	return GopsutilSource{}
}
