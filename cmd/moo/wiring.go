package main

import (
	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/config"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obslog"
	"github.com/cuemby/moo/internal/relbox"
	"github.com/cuemby/moo/internal/scheduler"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/storage/backing"
	"github.com/cuemby/moo/internal/vm"
	"github.com/cuemby/moo/internal/world"
)

// server bundles the components cmd/moo's subcommands wire together:
// storage, the commit box, the world-state and VM layers.
type server struct {
	cfg     config.Config
	backing *backing.Store
	wal     *relbox.BoltWAL
	box     *relbox.RelBox
	world   world.World
	interp  *vm.Interpreter
	sched   *scheduler.Scheduler
}

// buildServer constructs the storage and execution stack from cfg,
// registering the world package's fixed relation set (spec.md §4.9).
func buildServer(cfg config.Config) (*server, error) {
	pool := storage.NewBufferPool(cfg.PageSizeFloor, cfg.BufferPoolBytes)
	tupleBox := storage.NewTupleBox(pool)

	var back *backing.Store
	var wal *relbox.BoltWAL
	if cfg.BackingPath != "" {
		b, err := backing.Open(cfg.BackingPath)
		if err != nil {
			return nil, err
		}
		back = b
	}
	if cfg.Cluster.DataDir != "" {
		w, err := relbox.OpenWAL(cfg.Cluster.DataDir + "/wal.bolt")
		if err != nil {
			return nil, err
		}
		wal = w
	}

	var box *relbox.RelBox
	if wal != nil {
		box = relbox.New(tupleBox, wal)
	} else {
		box = relbox.New(tupleBox, nil)
	}

	for _, rid := range []ids.RelationID{
		world.RelObjects,
		world.RelParent,
		world.RelOwner,
		world.RelLocation,
		world.RelProperties,
		world.RelVerbs,
		world.RelNames,
	} {
		box.EnsureRelation(rid, false)
	}

	// Page-image recovery from the backing store into a live TupleBox is
	// not wired yet: the TupleBox has no LoadPage-from-bytes path back
	// into the buffer pool today. back is kept open, but nothing writes
	// committed pages to it and nothing replays it on startup.

	w := world.NewRelWorld()
	builtins := builtin.NewTable()
	interp := vm.New(w, builtins)

	sched := scheduler.New(box, interp, func(o scheduler.Outcome) {
		log := obslog.WithComponent("scheduler").Info().Uint64("task", uint64(o.TaskID))
		if o.Reason != nil {
			log = log.Int("unwind_kind", int(o.Reason.Kind)).Str("msg", o.Reason.Msg)
		}
		log.Msg("task finished")
	})

	return &server{cfg: cfg, backing: back, wal: wal, box: box, world: w, interp: interp, sched: sched}, nil
}

func (s *server) Close() {
	if s.wal != nil {
		s.wal.Close()
	}
	if s.backing != nil {
		s.backing.Close()
	}
}
