// Package cluster provides the replication seam named in spec.md §6 as
// future work: a raft.FSM that applies the same commitRecord stream a
// single-node RelBox already writes to its local WAL, so a follow-on
// change can wire hashicorp/raft's transport and consensus without
// touching the storage or transaction layers. Nothing in this package
// is reachable from a single-node deployment today.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/cuemby/moo/internal/ids"
)

// Applier is what a replicated FSM needs from local storage (RelBox has
// no ApplyReplicated method, so it does not satisfy it): apply an
// already-validated commit record to local canonical state without
// re-running validation (the leader already validated it).
type Applier interface {
	ApplyReplicated(txID ids.TxID, ts ids.Timestamp, relations []ids.RelationID) error
}

type commitRecord struct {
	TxID      ids.TxID
	Ts        ids.Timestamp
	Relations []ids.RelationID
}

// FSM adapts an Applier to raft.FSM. It is never started outside a
// multi-node configuration (internal/config.ClusterConfig.Enabled).
type FSM struct {
	applier Applier
}

// NewFSM wraps applier as a raft.FSM.
func NewFSM(applier Applier) *FSM { return &FSM{applier: applier} }

// Apply decodes a replicated commitRecord and applies it locally.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var rec commitRecord
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&rec); err != nil {
		return fmt.Errorf("cluster: decode replicated commit: %w", err)
	}
	return f.applier.ApplyReplicated(rec.TxID, rec.Ts, rec.Relations)
}

// Snapshot is unimplemented: a real snapshot would need to serialise
// the entire canonical set, which the single-node deployment never
// calls into.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return nil, fmt.Errorf("cluster: snapshotting not implemented for single-node deployments")
}

// Restore is unimplemented for the same reason as Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return fmt.Errorf("cluster: restore not implemented for single-node deployments")
}
