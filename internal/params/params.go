// Package params composes job parameter values from a fetched specification,
// an optional preset and user edits.
package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/seantiz/desolidify/internal/model"
)

// Defaults returns every spec key mapped to its default value. Keys whose
// default is null map to nil.
func Defaults(spec model.ParamSpec) model.ParamValues {
	out := make(model.ParamValues, len(spec))
	for k, p := range spec {
		out[k] = p.Default
	}
	return out
}

// Compose rebuilds values as defaults, then the named preset's overrides, then
// edits. Preset or edit keys absent from spec are dropped. An unknown preset
// name contributes nothing.
func Compose(spec model.ParamSpec, presets model.PresetSet, preset string, edits model.ParamValues) model.ParamValues {
	out := Defaults(spec)
	if overrides, ok := presets[preset]; ok {
		for k, v := range overrides {
			if _, known := spec[k]; known {
				out[k] = v
			}
		}
	}
	for k, v := range edits {
		if _, known := spec[k]; known {
			out[k] = v
		}
	}
	return out
}

// FirstPreset returns the lexically first preset name, or "" when there are none.
func FirstPreset(presets model.PresetSet) string {
	names := PresetNames(presets)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// PresetNames returns preset names sorted.
func PresetNames(presets model.PresetSet) []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Coerce converts value to the type declared for key and clamps numbers into
// the declared range. Nil passes through so nullable parameters stay unset.
func Coerce(spec model.ParamSpec, key string, value any) (any, error) {
	p, ok := spec[key]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", key)
	}
	if value == nil {
		return nil, nil
	}

	switch p.Type {
	case model.ParamBool:
		b, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		return b, nil
	case model.ParamSelect:
		s := fmt.Sprint(value)
		if len(p.Choices) > 0 && !slices.Contains(p.Choices, s) {
			return nil, fmt.Errorf("parameter %q: %q is not one of %v", key, s, p.Choices)
		}
		return s, nil
	case model.ParamInteger:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		f = math.Round(clamp(f, p))
		if f < math.MinInt32 || f > math.MaxInt32 {
			return nil, fmt.Errorf("parameter %q: %v is out of integer range", key, f)
		}
		return int(f), nil
	default:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		return clamp(f, p), nil
	}
}

// Apply coerces every edit and merges it into values, returning the new map.
// values itself is not modified.
func Apply(spec model.ParamSpec, values, edits model.ParamValues) (model.ParamValues, error) {
	out := values.Clone()
	for k, v := range edits {
		cv, err := Coerce(spec, k, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

// ForPreview returns a copy of values with the fast-mode flag forced on.
func ForPreview(values model.ParamValues) model.ParamValues {
	out := values.Clone()
	out[model.FastParam] = model.FastPreview
	return out
}

func clamp(f float64, p model.Param) float64 {
	if p.Min != nil && f < *p.Min {
		f = *p.Min
	}
	if p.Max != nil && f > *p.Max {
		f = *p.Max
	}
	return f
}

// toFloat converts v to a finite number.
func toFloat(v any) (float64, error) {
	f, err := anyToFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not a finite number", v)
	}
	return f, nil
}

func anyToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("%q is not a boolean", b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("unsupported value %v", v)
	}
}
