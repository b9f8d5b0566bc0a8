package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// normalize converts v to the shape encoding/json produces when decoding
// into an interface{}, so filter values compare equal to stored values.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out, nil
}

func normalizeFilter(f Filter) (Filter, error) {
	out := make(Filter, len(f))
	for i, c := range f {
		vals := make([]any, len(c.Values))
		for j, v := range c.Values {
			n, err := normalize(v)
			if err != nil {
				return nil, err
			}
			vals[j] = n
		}
		out[i] = Condition{Field: c.Field, Op: c.Op, Values: vals}
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func contains(arr []any, v any) bool {
	for _, e := range arr {
		if valuesEqual(e, v) {
			return true
		}
	}
	return false
}

// matches reports whether doc satisfies every condition of an already
// normalized filter.
func matches(doc map[string]any, f Filter) bool {
	for _, c := range f {
		field, present := doc[c.Field]

		switch c.Op {
		case OpEq:
			if !present {
				return false
			}
			want := c.Values[0]
			if arr, ok := field.([]any); ok {
				if _, wantArr := want.([]any); !wantArr {
					if !contains(arr, want) {
						return false
					}
					continue
				}
			}
			if !valuesEqual(field, want) {
				return false
			}
		case OpNotIn:
			if !present {
				continue
			}
			if arr, ok := field.([]any); ok {
				for _, e := range arr {
					if contains(c.Values, e) {
						return false
					}
				}
				continue
			}
			if contains(c.Values, field) {
				return false
			}
		case OpAll:
			arr, ok := field.([]any)
			if !ok {
				return false
			}
			for _, v := range c.Values {
				if !contains(arr, v) {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func applyUpdate(doc map[string]any, u Update) error {
	for field, v := range u.Set {
		n, err := normalize(v)
		if err != nil {
			return err
		}
		doc[field] = n
	}

	for field, v := range u.Push {
		n, err := normalize(v)
		if err != nil {
			return err
		}

		var arr []any
		switch cur := doc[field].(type) {
		case nil:
		case []any:
			arr = cur
		default:
			return fmt.Errorf("push to non-array field %q", field)
		}
		doc[field] = append(arr, n)
	}

	for field, match := range u.Pull {
		want := make(map[string]any, len(match))
		for k, v := range match {
			n, err := normalize(v)
			if err != nil {
				return err
			}
			want[k] = n
		}

		arr, ok := doc[field].([]any)
		if !ok {
			continue
		}

		kept := make([]any, 0, len(arr))
		for _, e := range arr {
			if elemMatches(e, want) {
				continue
			}
			kept = append(kept, e)
		}
		doc[field] = kept
	}

	return nil
}

func elemMatches(e any, want map[string]any) bool {
	m, ok := e.(map[string]any)
	if !ok {
		return false
	}
	for k, v := range want {
		if !valuesEqual(m[k], v) {
			return false
		}
	}
	return true
}
