package api

import (
	"fmt"

	"github.com/smnsjas/go-nvimcore/wire"
)

// fromWire rewrites a decoded value for the caller: registered ext
// references become typed handles, and raw byte payloads become
// strings when text decoding is on. Unregistered ext tags pass through
// untouched so they can be echoed back verbatim. Containers are
// rebuilt, never mutated in place.
func (v *Nvim) fromWire(val any) any {
	switch x := val.(type) {
	case wire.Ext:
		switch v.types[x.Type] {
		case kindBuffer:
			return Buffer{Remote{v: v, id: RemoteID{Type: x.Type, Data: string(x.Data)}}}
		case kindWindow:
			return Window{Remote{v: v, id: RemoteID{Type: x.Type, Data: string(x.Data)}}}
		case kindTabpage:
			return Tabpage{Remote{v: v, id: RemoteID{Type: x.Type, Data: string(x.Data)}}}
		default:
			return x
		}
	case []byte:
		if v.textDecode {
			return string(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = v.fromWire(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = v.fromWire(item)
		}
		return out
	default:
		return val
	}
}

func (v *Nvim) fromWireSlice(vals []any) []any {
	out := make([]any, len(vals))
	for i, val := range vals {
		out[i] = v.fromWire(val)
	}
	return out
}

// toWire rewrites an outgoing value into its wire form: typed handles
// collapse back to their ext references, containers are walked, and
// everything else is passed to the codec as-is.
func (v *Nvim) toWire(val any) any {
	if ref, ok := val.(interface{ ref() wire.Ext }); ok {
		return ref.ref()
	}
	switch x := val.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = v.toWire(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = v.toWire(item)
		}
		return out
	default:
		return val
	}
}

func (v *Nvim) toWireSlice(vals []any) []any {
	out := make([]any, len(vals))
	for i, val := range vals {
		out[i] = v.toWire(val)
	}
	return out
}

func unexpectedType(want string, got any) error {
	return fmt.Errorf("host returned %T, want %s", got, want)
}

// asInt accepts either signed or unsigned wire integers.
func asInt(val any) (int, error) {
	switch x := val.(type) {
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	default:
		return 0, unexpectedType("integer", val)
	}
}

func asString(val any) (string, error) {
	switch x := val.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	default:
		return "", unexpectedType("string", val)
	}
}

func asBool(val any) (bool, error) {
	b, ok := val.(bool)
	if !ok {
		return false, unexpectedType("bool", val)
	}
	return b, nil
}

func asStrings(val any) ([]string, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, unexpectedType("string list", val)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, err := asString(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// asPosition unpacks the [row, col] pairs the host uses for cursor and
// mark positions.
func asPosition(val any) (int, int, error) {
	pair, ok := val.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, unexpectedType("[row, col] pair", val)
	}
	row, err := asInt(pair[0])
	if err != nil {
		return 0, 0, fmt.Errorf("row: %w", err)
	}
	col, err := asInt(pair[1])
	if err != nil {
		return 0, 0, fmt.Errorf("col: %w", err)
	}
	return row, col, nil
}
