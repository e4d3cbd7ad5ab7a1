// Package txn implements the per-transaction mutation log and
// read-tracking working set described in spec.md §3-§4.5: the
// `Insert`/`Update(old_ts)`/`Upsert`/`Tombstone(old_ts)`/`Value(ts)`
// variants, forked lazily per accessed relation, plus the transaction
// view's seek/insert/update/remove/predicate_scan operations.
package txn

import (
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/storage"
)

// Kind is the TxTuple variant tag (spec.md §3).
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindUpsert
	KindTombstone
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "Insert"
	case KindUpdate:
		return "Update"
	case KindUpsert:
		return "Upsert"
	case KindTombstone:
		return "Tombstone"
	case KindValue:
		return "Value"
	default:
		return "Unknown"
	}
}

// logEntry is one working-set record for a single domain key.
type logEntry struct {
	kind     Kind
	ref      *storage.TupleRef // nil for Tombstone
	oldTs    ids.Timestamp     // observed write-ts, for Update/Tombstone/Value
	codomain []byte            // current codomain bytes, kept for codomain-index maintenance at publish
}

// relationLog is the per-relation portion of a transaction's working
// set: a map from domain-bytes to its pending mutation or read record,
// plus whether a full predicate scan was logged (spec.md §4.5
// predicate_scan "records per-relation full-scan read guard").
type relationLog struct {
	entries  map[string]*logEntry
	fullScan bool
}

func newRelationLog() *relationLog {
	return &relationLog{entries: make(map[string]*logEntry)}
}
