// Package pipeline defines the configuration option schema shared by estimators,
// the configuration file loader and the CLI flag builder.
package pipeline

import (
	"fmt"
	"strconv"
)

// ConfigurationOptionType represents the possible types of a ConfigurationOption's value.
type ConfigurationOptionType int

const (
	// BoolConfigurationOption reflects the boolean value type.
	BoolConfigurationOption ConfigurationOptionType = iota
	// IntConfigurationOption reflects the integer value type.
	IntConfigurationOption
	// StringConfigurationOption reflects the string value type.
	StringConfigurationOption
	// FloatConfigurationOption reflects a floating point value type.
	FloatConfigurationOption
	// IntsConfigurationOption reflects a list of integers.
	IntsConfigurationOption
)

// String returns the type name shown in CLI help; empty for booleans.
func (opt ConfigurationOptionType) String() string {
	switch opt {
	case BoolConfigurationOption:
		return ""
	case IntConfigurationOption:
		return "int"
	case StringConfigurationOption:
		return "string"
	case FloatConfigurationOption:
		return "float"
	case IntsConfigurationOption:
		return "ints"
	}

	return "ConfigurationOptionType(" + strconv.Itoa(int(opt)) + ")"
}

// ConfigurationOption describes one tunable of an estimator.
type ConfigurationOption struct {
	// Default is the initial value of the configuration option.
	Default any
	// Name identifies the configuration option in facts, e.g. "Order.NumberOfIntervals".
	Name string
	// Description is the help text.
	Description string
	// Flag is the CLI token with "--" prepended.
	Flag string
	// Type specifies the kind of the configuration option's value.
	Type ConfigurationOptionType
}

// FormatDefault converts the default value to the string shown in CLI help.
func (opt ConfigurationOption) FormatDefault() string {
	if opt.Type == StringConfigurationOption {
		return fmt.Sprintf("%q", opt.Default)
	}

	return fmt.Sprint(opt.Default)
}

// Facts are configuration values keyed by ConfigurationOption.Name. Values come from
// CLI flags (typed) or from configuration files (decoded YAML, where numbers may
// arrive as any numeric type).
type Facts map[string]any

// Int returns the named fact as an int.
func (f Facts) Int(name string) (int, bool) {
	switch v := f[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n, true
		}
	}

	return 0, false
}

// Float returns the named fact as a float64.
func (f Facts) Float(name string) (float64, bool) {
	switch v := f[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		x, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return x, true
		}
	}

	return 0, false
}

// Bool returns the named fact as a bool.
func (f Facts) Bool(name string) (bool, bool) {
	switch v := f[name].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b, true
		}
	}

	return false, false
}

// String returns the named fact as a string.
func (f Facts) String(name string) (string, bool) {
	v, ok := f[name].(string)

	return v, ok
}

// Ints returns the named fact as a list of ints.
func (f Facts) Ints(name string) ([]int, bool) {
	switch v := f[name].(type) {
	case []int:
		return v, true
	case []any:
		out := make([]int, 0, len(v))

		for i := range v {
			n, ok := Facts{"": v[i]}.Int("")
			if !ok {
				return nil, false
			}

			out = append(out, n)
		}

		return out, true
	}

	return nil, false
}
