package filters

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/nikolalohinski/gonja/v2/exec"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/goliatone/go-jinja/pkg/undefined"
)

// ToStarlark converts a template value into its Starlark counterpart. Maps
// become dicts, slices become lists and anything unrecognised is passed as
// its string form.
func ToStarlark(value any) (starlark.Value, error) {
	switch v := value.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case undefined.Null:
		return undefined.Starlark, nil
	case *exec.Value:
		if v == nil || v.IsNil() {
			return starlark.None, nil
		}
		if v.IsError() {
			return nil, fmt.Errorf("%s", v.Error())
		}
		return ToStarlark(v.Interface())
	case exec.ValuesList:
		list := make([]starlark.Value, 0, len(v))
		for _, item := range v {
			converted, err := ToStarlark(item)
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return starlark.NewList(list), nil
	case *exec.Dict:
		dict := starlark.NewDict(len(v.Pairs))
		for _, pair := range v.Pairs {
			key, err := ToStarlark(pair.Key)
			if err != nil {
				return nil, err
			}
			val, err := ToStarlark(pair.Value)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(key, val); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil
	case error:
		return nil, v
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float()), nil
	case reflect.String:
		return starlark.String(rv.String()), nil
	case reflect.Bool:
		return starlark.Bool(rv.Bool()), nil
	case reflect.Slice, reflect.Array:
		list := make([]starlark.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			converted, err := ToStarlark(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list = append(list, converted)
		}
		return starlark.NewList(list), nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		dict := starlark.NewDict(len(keys))
		for _, key := range keys {
			k, err := ToStarlark(key.Interface())
			if err != nil {
				return nil, err
			}
			val, err := ToStarlark(rv.MapIndex(key).Interface())
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(k, val); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return starlark.None, nil
		}
		return ToStarlark(rv.Elem().Interface())
	}

	return starlark.String(fmt.Sprint(value)), nil
}

// FromStarlark converts a filter result back into plain Go values the engine
// understands.
func FromStarlark(value starlark.Value) any {
	switch v := value.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return string(v)
	case *starlark.List:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = FromStarlark(v.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = FromStarlark(item)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			out[keyString(item[0])] = FromStarlark(item[1])
		}
		return out
	case *starlarkstruct.Struct:
		fields := starlark.StringDict{}
		v.ToStringDict(fields)
		out := make(map[string]any, len(fields))
		for name, field := range fields {
			out[name] = FromStarlark(field)
		}
		return out
	}
	if undefined.IsStarlark(value) {
		return undefined.Value
	}
	return value.String()
}

func keyString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
