package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/moo/internal/config"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/scheduler"
	"github.com/cuemby/moo/internal/vm"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run a built-in smoke program through the scheduler",
	Long: `eval compiles nothing from source (no MOO-code compiler exists
in this build): it submits a small hand-built bytecode program -
"1 + 41" followed by return - to prove the storage, commit, VM and
scheduler layers are wired together end to end.`,
	RunE: runEval,
}

// smokeProgram returns a one-verb Program computing 1+41 and returning
// it, exercising OpImmInt/OpAdd/OpReturn without needing a compiler.
func smokeProgram() *vm.Program {
	return &vm.Program{
		Main: []vm.Instr{
			{Op: vm.OpImmInt, A: 1},
			{Op: vm.OpImmInt, A: 41},
			{Op: vm.OpAdd},
			{Op: vm.OpReturn},
		},
	}
}

type stdoutSession struct{}

func (stdoutSession) Notify(player ids.ObjID, line string) {
	fmt.Printf("[notify #%d] %s\n", int64(player), line)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	srv, err := buildServer(cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	prog := smokeProgram()
	root := vm.NewActivation(prog, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID,
		vm.VerbInfo{Names: "eval", Definer: ids.InvalidObjID, Owner: ids.InvalidObjID})

	done := make(chan scheduler.Outcome, 1)
	sched := scheduler.New(srv.box, srv.interp, func(o scheduler.Outcome) { done <- o })

	sched.Submit(root, stdoutSession{}, cfg.DefaultTicks, cfg.DefaultTimeBudget)
	sched.Wait()

	select {
	case o := <-done:
		if o.Reason != nil {
			fmt.Printf("eval: uncaught exception code=%s msg=%q\n", o.Reason.Code, o.Reason.Msg)
			return nil
		}
		fmt.Printf("eval: result = %s\n", o.Value.Kind)
		fmt.Printf("eval: int value = %d\n", o.Value.Int)
	case <-time.After(5 * time.Second):
		return fmt.Errorf("eval: task did not complete within 5s")
	}
	return nil
}
