package vm

// ErrCode is a VM value-level error (spec.md §7 "VM value errors (as
// opcode-visible values, not crashes)"). These are ordinary Values that
// travel through the stack and the exception mechanism; they are never
// Go errors and never panic.
type ErrCode string

const (
	E_TYPE   ErrCode = "E_TYPE"
	E_RANGE  ErrCode = "E_RANGE"
	E_ARGS   ErrCode = "E_ARGS"
	E_DIV    ErrCode = "E_DIV"
	E_INVARG ErrCode = "E_INVARG"
	E_MAXREC ErrCode = "E_MAXREC"
	E_VARNF  ErrCode = "E_VARNF"
	E_PROPNF ErrCode = "E_PROPNF"
	E_VERBNF ErrCode = "E_VERBNF"
	E_PERM   ErrCode = "E_PERM"
	E_QUOTA  ErrCode = "E_QUOTA"
	E_NACC   ErrCode = "E_NACC"
	E_INVIND ErrCode = "E_INVIND"
	E_NONE   ErrCode = "E_NONE"
)
