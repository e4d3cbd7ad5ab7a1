package loader

import "io"

// Load would parse a textdump-format world snapshot and replay it
// against t, one create_object/define_property/add_verb call per
// record. The textdump grammar and verb-compiler are out of scope
// (spec.md §1 Non-goals: "textdump parser/verb resolver"); this
// signature exists so callers (cmd/moo's eval path) can be written
// against a stable seam before a parser exists.
func Load(r io.Reader, t Transactional) error {
	return errNotImplemented
}

var errNotImplemented = textdumpError("loader: textdump parsing is out of scope")

type textdumpError string

func (e textdumpError) Error() string { return string(e) }
