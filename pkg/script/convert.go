package script

import (
	"context"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ToValue converts a Go value to a Starlark value. Starlark values pass through.
func ToValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint32:
		return starlark.MakeUint64(uint64(val)), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := ToValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := ToValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromValue converts a Starlark value to a Go value. Callables are returned unchanged.
func FromValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromIndexable(val)
	case *starlark.List:
		return fromIndexable(val)
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := FromValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			if _, ok := attr.(starlark.Callable); ok {
				continue
			}
			value, err := FromValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	case starlark.Callable:
		return val, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIndexable(val starlark.Indexable) ([]interface{}, error) {
	list := make([]interface{}, val.Len())
	for i := 0; i < val.Len(); i++ {
		item, err := FromValue(val.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

// Call invokes fn with Go arguments and converts its result back to Go.
func (rt *Runtime) Call(ctx context.Context, fn starlark.Callable, args ...interface{}) (interface{}, error) {
	tuple := make(starlark.Tuple, len(args))
	for i, arg := range args {
		v, err := ToValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		tuple[i] = v
	}

	thread := rt.newThread(ctx, fn.Name())
	result, err := starlark.Call(thread, fn, tuple, nil)
	if err != nil {
		return nil, err
	}
	return FromValue(result)
}

// Members returns the callable attributes of v by name. A callable v with no callable
// attributes is returned under its own name.
func Members(v starlark.Value) map[string]starlark.Callable {
	members := make(map[string]starlark.Callable)

	if attrs, ok := v.(starlark.HasAttrs); ok {
		for _, name := range attrs.AttrNames() {
			attr, err := attrs.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			if fn, ok := attr.(starlark.Callable); ok {
				members[name] = fn
			}
		}
	}

	if len(members) == 0 {
		if fn, ok := v.(starlark.Callable); ok {
			members[fn.Name()] = fn
		}
	}
	return members
}

// MemberNames returns the sorted names of Members(v).
func MemberNames(v starlark.Value) []string {
	members := Members(v)
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
