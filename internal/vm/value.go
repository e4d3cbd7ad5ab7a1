// Package vm implements the stack-based bytecode interpreter described
// in spec.md §4.6-§4.7: a flat opcode vector over a literal pool and
// label table, an activation-frame call stack, structured try/except/
// finally unwinding, forkable sub-tasks, and tick-budget cooperative
// suspension.
package vm

import (
	"fmt"
	"strconv"
)

// Kind tags the dynamic type of a Value (spec.md §4.6 numeric/indexing
// semantics require runtime type dispatch, e.g. mixed int/float
// coercion, string concatenation, 1-indexed list/range ops).
type Kind int

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindStr
	KindObjID
	KindErr
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "str"
	case KindObjID:
		return "obj"
	case KindErr:
		return "err"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is the VM's tagged union of runtime values. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
	ObjID int64
	Err   ErrCode
	List  []Value
}

func None() Value              { return Value{Kind: KindNone} }
func Int(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func Str(s string) Value       { return Value{Kind: KindStr, Str: s} }
func ObjID(id int64) Value     { return Value{Kind: KindObjID, ObjID: id} }
func Err(e ErrCode) Value      { return Value{Kind: KindErr, Err: e} }
func List(vs ...Value) Value   { return Value{Kind: KindList, List: vs} }
func EmptyList() Value         { return Value{Kind: KindList, List: []Value{}} }

// IsErr reports whether v is a VM error value (spec.md §4.7 "push_error"
// path, as opposed to a Go error / panic).
func (v Value) IsErr() bool { return v.Kind == KindErr }

// Truthy implements MOO truth semantics: 0, 0.0, "", {}, none and every
// error value are false; everything else is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNone:
		return false
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindStr:
		return v.Str != ""
	case KindList:
		return len(v.List) > 0
	case KindErr:
		return false
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNone:
		return "None"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindStr:
		return v.Str
	case KindObjID:
		return fmt.Sprintf("#%d", v.ObjID)
	case KindErr:
		return string(v.Err)
	case KindList:
		out := "{"
		for i, e := range v.List {
			if i > 0 {
				out += ", "
			}
			out += e.String()
		}
		return out + "}"
	default:
		return "?"
	}
}

// Equal implements MOO `==`: cross-kind comparisons (other than int/float
// coercion) are always false, never a type error.
func Equal(a, b Value) bool {
	if a.Kind == KindInt && b.Kind == KindFloat {
		return float64(a.Int) == b.Float
	}
	if a.Kind == KindFloat && b.Kind == KindInt {
		return a.Float == float64(b.Int)
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNone:
		return true
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindStr:
		return a.Str == b.Str
	case KindObjID:
		return a.ObjID == b.ObjID
	case KindErr:
		return a.Err == b.Err
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}
