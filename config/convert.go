package config

import (
	"fmt"

	"go.starlark.net/starlark"
)

// toGo converts a Starlark value into plain Go values: string, int64,
// float64, bool, nil, []any and map[string]any.
func toGo(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return v.GoString(), nil
	case starlark.Int:
		i, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", v.String())
		}
		return i, nil
	case starlark.Float:
		return float64(v), nil
	case *starlark.List:
		return iterableToGo(v, v.Len())
	case starlark.Tuple:
		return iterableToGo(v, v.Len())
	case *starlark.Dict:
		return dictToGo(v)
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

func iterableToGo(it starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		gv, err := toGo(x)
		if err != nil {
			return nil, err
		}
		out = append(out, gv)
	}
	return out, nil
}

func dictToGo(d *starlark.Dict) (map[string]any, error) {
	out := make(map[string]any, d.Len())
	for _, item := range d.Items() {
		key, ok := item.Index(0).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("dict keys must be strings, got %s", item.Index(0).Type())
		}
		gv, err := toGo(item.Index(1))
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key.GoString(), err)
		}
		out[key.GoString()] = gv
	}
	return out, nil
}
