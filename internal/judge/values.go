package judge

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds conversion of nested tables so cyclic results fail
// instead of recursing forever.
const maxDepth = 32

// toLua converts a test-vector value (as decoded from YAML) into a Lua
// value on the given state.
func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch val := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(val), nil
	case int:
		return lua.LNumber(val), nil
	case int64:
		return lua.LNumber(val), nil
	case float64:
		return lua.LNumber(val), nil
	case string:
		return lua.LString(val), nil
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			lv, err := toLua(L, item)
			if err != nil {
				return lua.LNil, err
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			lv, err := toLua(L, item)
			if err != nil {
				return lua.LNil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	default:
		return lua.LNil, fmt.Errorf("unsupported argument type %T", v)
	}
}

// fromLua converts a Lua return value into plain Go data for canonical
// encoding. Tables with a positive raw length become arrays; other tables
// become string-keyed objects.
func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("result nested deeper than %d levels", maxDepth)
	}

	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				item, err := fromLua(val.RawGetInt(i), depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			return arr, nil
		}

		obj := make(map[string]any)
		var convErr error
		val.ForEach(func(k, item lua.LValue) {
			if convErr != nil {
				return
			}
			converted, err := fromLua(item, depth+1)
			if err != nil {
				convErr = err
				return
			}
			obj[k.String()] = converted
		})
		if convErr != nil {
			return nil, convErr
		}
		// An empty table has no shape to go on and reads as an empty
		// array. Catalog expected values must use [] for empty results;
		// an expected {} can never match.
		if len(obj) == 0 {
			return []any{}, nil
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
