package vm

import (
	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/ids"
)

// toWorldValue converts a VM Value into the plain interface{}
// representation internal/world stores properties as.
func toWorldValue(v Value) interface{} {
	switch v.Kind {
	case KindNone:
		return nil
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindStr:
		return v.Str
	case KindObjID:
		return ids.ObjID(v.ObjID)
	case KindErr:
		return string(v.Err)
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = toWorldValue(e)
		}
		return out
	default:
		return nil
	}
}

// fromWorldValue is the inverse of toWorldValue.
func fromWorldValue(w interface{}) Value {
	switch t := w.(type) {
	case nil:
		return None()
	case int64:
		return Int(t)
	case int:
		return Int(int64(t))
	case float64:
		return Float(t)
	case string:
		return Str(t)
	case ids.ObjID:
		return ObjID(int64(t))
	case []interface{}:
		vals := make([]Value, len(t))
		for i, e := range t {
			vals[i] = fromWorldValue(e)
		}
		return List(vals...)
	default:
		return None()
	}
}

// toBuiltinValue / fromBuiltinValue cross the vm<->builtin boundary the
// same way toWorldValue/fromWorldValue cross vm<->world, since both
// collaborators define their own Value-like shape to avoid importing vm.
func toBuiltinValue(v Value) builtin.Value {
	switch v.Kind {
	case KindNone:
		return builtin.Value{Kind: "none"}
	case KindInt:
		return builtin.Value{Kind: "int", Int: v.Int}
	case KindFloat:
		return builtin.Value{Kind: "float", Float: v.Float}
	case KindStr:
		return builtin.Value{Kind: "str", Str: v.Str}
	case KindObjID:
		return builtin.Value{Kind: "obj", ObjID: ids.ObjID(v.ObjID)}
	case KindErr:
		return builtin.Value{Kind: "err", Err: string(v.Err)}
	case KindList:
		out := make([]builtin.Value, len(v.List))
		for i, e := range v.List {
			out[i] = toBuiltinValue(e)
		}
		return builtin.Value{Kind: "list", List: out}
	default:
		return builtin.Value{Kind: "none"}
	}
}

func fromBuiltinValue(b builtin.Value) Value {
	switch b.Kind {
	case "int":
		return Int(b.Int)
	case "float":
		return Float(b.Float)
	case "str":
		return Str(b.Str)
	case "obj":
		return ObjID(int64(b.ObjID))
	case "err":
		return Err(ErrCode(b.Err))
	case "list":
		vals := make([]Value, len(b.List))
		for i, e := range b.List {
			vals[i] = fromBuiltinValue(e)
		}
		return List(vals...)
	default:
		return None()
	}
}
