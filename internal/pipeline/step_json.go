package pipeline

import (
	"encoding/json"
	"sort"
)

// marshalStep flattens step/ok/error plus the extra keys into one
// object, keeping deterministic key order for the extras.
func marshalStep(s Step) ([]byte, error) {
	obj := make(map[string]any, len(s.Extra)+3)
	obj["step"] = s.Step
	obj["ok"] = s.OK
	if s.Error != "" {
		obj["error"] = s.Error
	}
	for k, v := range s.Extra {
		obj[k] = v
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(obj[k])
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, vb...)
	}
	return append(out, '}'), nil
}
