package kvstore

import (
	"strings"
	"time"
)

var temporalSuffixes = []string{"At", "Date", "Time", "Timestamp"}

// ReviveTimes walks a decoded JSON map and converts string values under
// temporally-suffixed field names into time.Time, recursing into nested maps
// and slices. Values that do not parse as RFC3339 are left as-is.
func ReviveTimes(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if hasTemporalSuffix(k) {
				if t, err := time.Parse(time.RFC3339, val); err == nil {
					m[k] = t
				}
			}
		case map[string]any:
			ReviveTimes(val)
		case []any:
			for _, item := range val {
				if nested, ok := item.(map[string]any); ok {
					ReviveTimes(nested)
				}
			}
		}
	}
}

func hasTemporalSuffix(name string) bool {
	for _, suffix := range temporalSuffixes {
		if strings.HasSuffix(name, suffix) && name != suffix {
			return true
		}
	}
	return false
}
