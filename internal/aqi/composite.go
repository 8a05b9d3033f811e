package aqi

import (
	"fmt"
	"math"
)

// Policy selects how per-pollutant values are folded into one index.
type Policy string

const (
	// PolicyStandard takes the maximum of the per-pollutant sub-indices.
	PolicyStandard Policy = "standard"
	// PolicyLegacy reproduces the older dashboard formula:
	// max(subIndex(PM2.5), 0.6*PM10, 1.2*O3) on raw PM10 and O3 values.
	// PM10 and O3 must both be in µg/m³ here. O3 in ppm, as the breakpoint
	// tables take it, yields near-zero O3 terms.
	PolicyLegacy Policy = "legacy"
)

// ParsePolicy accepts "standard" or "legacy"; empty means standard.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStandard:
		return PolicyStandard, nil
	case PolicyLegacy:
		return PolicyLegacy, nil
	}
	return "", fmt.Errorf("unknown composite policy %q", s)
}

// Composite folds raw concentrations into one index and reports the
// pollutant that drove it. Unknown pollutants are ignored. It returns an
// error when no usable concentration is present.
func Composite(policy Policy, concentrations map[Pollutant]float64) (int, Pollutant, error) {
	if policy == PolicyLegacy {
		return legacyComposite(concentrations)
	}

	best, dominant, found := -1, Pollutant(""), false
	for _, p := range Pollutants {
		c, ok := concentrations[p]
		if !ok {
			continue
		}
		sub, err := ComputeSubIndex(p, c)
		if err != nil {
			continue
		}
		found = true
		if sub > best {
			best, dominant = sub, p
		}
	}
	if !found {
		return 0, "", fmt.Errorf("no usable pollutant concentrations")
	}
	return best, dominant, nil
}

func legacyComposite(concentrations map[Pollutant]float64) (int, Pollutant, error) {
	best, dominant, found := -1.0, Pollutant(""), false

	if c, ok := concentrations[PM25]; ok {
		if sub, err := ComputeSubIndex(PM25, c); err == nil {
			best, dominant, found = float64(sub), PM25, true
		}
	}
	if c, ok := concentrations[PM10]; ok && !math.IsNaN(c) {
		found = true
		if v := 0.6 * c; v > best {
			best, dominant = v, PM10
		}
	}
	if c, ok := concentrations[O3]; ok && !math.IsNaN(c) {
		found = true
		if v := 1.2 * c; v > best {
			best, dominant = v, O3
		}
	}
	if !found {
		return 0, "", fmt.Errorf("no usable pollutant concentrations")
	}
	return clamp(int(math.Round(best))), dominant, nil
}
