package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ricardoalt1515/DSR-AI-sub000/internal/model"
)

var (
	locationFields = []string{"name", "city", "state", "address"}
	projectFields  = []string{"name", "category", "project_type", "description", "sector", "subsector", "estimated_volume", "site_name", "site_city", "site_state"}
)

// Value renders a loosely typed JSON scalar as cleaned text. Composite values
// and nil render as "".
func Value(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return Clean(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return Clean(t.String())
	default:
		return ""
	}
}

// Location builds the canonical location payload from raw extracted fields.
func Location(raw map[string]any) model.LocationNormalized {
	return model.LocationNormalized{
		Name:    Value(raw["name"]),
		City:    Value(raw["city"]),
		State:   Value(raw["state"]),
		Address: Value(raw["address"]),
	}
}

// Project builds the canonical project payload from raw extracted fields.
func Project(raw map[string]any) model.ProjectNormalized {
	return model.ProjectNormalized{
		Name:            Value(raw["name"]),
		Category:        Value(raw["category"]),
		ProjectType:     Value(raw["project_type"]),
		Description:     Value(raw["description"]),
		Sector:          Value(raw["sector"]),
		Subsector:       Value(raw["subsector"]),
		EstimatedVolume: Value(raw["estimated_volume"]),
		SiteName:        Value(raw["site_name"]),
		SiteCity:        Value(raw["site_city"]),
		SiteState:       Value(raw["site_state"]),
	}
}

// SanitizePatch keeps only the fields that belong to itemType's payload and
// renders each as cleaned text. A key explicitly set to null clears it.
func SanitizePatch(itemType model.ItemType, patch map[string]any) map[string]any {
	fields := projectFields
	if itemType == model.ItemTypeLocation {
		fields = locationFields
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := patch[f]
		if !ok {
			continue
		}
		out[f] = Value(v)
	}
	return out
}

// ShallowMerge returns a new map holding base overlaid with patch.
func ShallowMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// DeepMerge returns a new map combining a and b. Nested maps merge
// recursively; when both sides hold different scalars under the same key, a
// wins and b's value is kept under "<key>_alt". Neither input is modified.
func DeepMerge(a, b map[string]any) map[string]any {
	out := CopyMap(a)
	for k, bv := range b {
		av, ok := out[k]
		if !ok || av == nil {
			out[k] = deepCopy(bv)
			continue
		}
		am, aIsMap := av.(map[string]any)
		bm, bIsMap := bv.(map[string]any)
		if aIsMap && bIsMap {
			out[k] = DeepMerge(am, bm)
			continue
		}
		if bv == nil || equalJSON(av, bv) {
			continue
		}
		alt := k + "_alt"
		if existing, ok := out[alt]; !ok || existing == nil {
			out[alt] = deepCopy(bv)
		}
	}
	return out
}

// CopyMap returns a deep copy of m.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

func equalJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

// ClampConfidence maps an agent confidence into 0-100. Fractions in (0, 1]
// are treated as probabilities and scaled.
func ClampConfidence(c float64) int {
	if c > 0 && c <= 1 {
		c *= 100
	}
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return int(c + 0.5)
	}
}
