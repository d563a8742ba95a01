package alarms

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/portenta/image-processing-ioc/internal/config"
)

// rule is a config.AlarmRule with its condition parsed.
type rule struct {
	config.AlarmRule
	pv        string // full record name, prefix included
	op        string
	threshold float64
}

// parseRule splits "<pv> <op> <number>" and resolves the PV name under prefix.
//
//	ratio < 0.05
//	primary:total_counts <= 1000
//	secondary:center_of_mass_col > 900
func parseRule(r config.AlarmRule, prefix string) (rule, error) {
	parts := strings.Fields(r.Condition)
	if len(parts) != 3 {
		return rule{}, fmt.Errorf("alarms: rule %q: condition %q must have 3 fields", r.Name, r.Condition)
	}
	field, op, rhs := parts[0], parts[1], parts[2]
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return rule{}, fmt.Errorf("alarms: rule %q: unknown operator %q", r.Name, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return rule{}, fmt.Errorf("alarms: rule %q: threshold %q: %w", r.Name, rhs, err)
	}
	return rule{AlarmRule: r, pv: prefix + field, op: op, threshold: threshold}, nil
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
