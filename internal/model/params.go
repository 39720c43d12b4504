package model

// Parameter type constants.
const (
	ParamNumber  = "number"
	ParamInteger = "integer"
	ParamBool    = "bool"
	ParamSelect  = "select"
)

// FastParam is the parameter the preview endpoint forces to FastPreview.
const (
	FastParam   = "fast"
	FastPreview = 2
)

// Param describes one tunable job parameter.
type Param struct {
	Type    string   `json:"type"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Step    *float64 `json:"step,omitempty"`
	Default any      `json:"default"`
	Choices []string `json:"choices,omitempty"`
	Tip     string   `json:"tip,omitempty"`
}

// ParamSpec maps parameter names to their definitions.
type ParamSpec map[string]Param

// PresetSet maps preset names to partial parameter overrides.
type PresetSet map[string]map[string]any

// ParamValues maps parameter names to current values.
type ParamValues map[string]any

// Clone returns a shallow copy of v.
func (v ParamValues) Clone() ParamValues {
	out := make(ParamValues, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
