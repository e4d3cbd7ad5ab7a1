package relbox

import (
	"bytes"
	"encoding/gob"
	"fmt"

	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/hashicorp/raft"

	"github.com/cuemby/moo/internal/ids"
)

// commitRecord is the durable representation of one committed
// transaction, gob-encoded into a raft.Log's Data field.
type commitRecord struct {
	TxID      ids.TxID
	Ts        ids.Timestamp
	Relations []ids.RelationID
}

// BoltWAL persists committed transactions using raft-boltdb's LogStore,
// the same append-only bolt-backed log the teacher's cluster layer uses
// for Raft replication (spec.md §6 durability: "every commit... is
// appended... before the canonical pointer swap is made visible").
// Running single-node, it is used purely as a local write-ahead log —
// no consensus round trips the in-process commit path.
type BoltWAL struct {
	store *raftboltdb.BoltStore
	index uint64
}

// OpenWAL opens (creating if absent) a bolt-backed log file at path.
func OpenWAL(path string) (*BoltWAL, error) {
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, fmt.Errorf("relbox: open wal: %w", err)
	}
	last, err := store.LastIndex()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("relbox: read wal last index: %w", err)
	}
	return &BoltWAL{store: store, index: last}, nil
}

// Close releases the underlying bolt file.
func (w *BoltWAL) Close() error { return w.store.Close() }

// AppendCommit appends one record describing a just-validated commit,
// before RelBox makes the new canonical set visible.
func (w *BoltWAL) AppendCommit(txID ids.TxID, ts ids.Timestamp, relations []ids.RelationID) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(commitRecord{TxID: txID, Ts: ts, Relations: relations}); err != nil {
		return fmt.Errorf("relbox: encode wal record: %w", err)
	}
	w.index++
	entry := &raft.Log{
		Index: w.index,
		Term:  1,
		Type:  raft.LogCommand,
		Data:  buf.Bytes(),
	}
	return w.store.StoreLog(entry)
}

// Replay reads every committed record back in order, for recovery: the
// caller cross-checks each against the backing store's page images and
// re-derives the timestamp oracle's starting value.
func (w *BoltWAL) Replay(visit func(txID ids.TxID, ts ids.Timestamp, relations []ids.RelationID) error) error {
	first, err := w.store.FirstIndex()
	if err != nil {
		return fmt.Errorf("relbox: wal first index: %w", err)
	}
	last, err := w.store.LastIndex()
	if err != nil {
		return fmt.Errorf("relbox: wal last index: %w", err)
	}
	for i := first; i <= last && i > 0; i++ {
		var entry raft.Log
		if err := w.store.GetLog(i, &entry); err != nil {
			return fmt.Errorf("relbox: wal read %d: %w", i, err)
		}
		var rec commitRecord
		if err := gob.NewDecoder(bytes.NewReader(entry.Data)).Decode(&rec); err != nil {
			return fmt.Errorf("relbox: decode wal record %d: %w", i, err)
		}
		if err := visit(rec.TxID, rec.Ts, rec.Relations); err != nil {
			return err
		}
	}
	return nil
}
