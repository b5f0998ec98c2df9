// lavdgo runs the gaming-scheduler decision engine in demo mode: a
// scripted game-detector, input/GPU/compositor hook drivers, and a
// periodic stats printer, all wired against the real CORE engine with
// no actual sched_ext attachment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lavdgo/lavdgo"
	"github.com/lavdgo/lavdgo/internal/affinity"
	"github.com/lavdgo/lavdgo/internal/clock"
	"github.com/lavdgo/lavdgo/internal/config"
	"github.com/lavdgo/lavdgo/internal/logging"
	"github.com/lavdgo/lavdgo/internal/pertask"
	"github.com/lavdgo/lavdgo/internal/ringbuf"
	"github.com/lavdgo/lavdgo/internal/sim"
)

// Exit codes: 0 normal shutdown, 1 configuration error, 2 runtime
// failure to stand up the engine.
const (
	exitOK         = 0
	exitConfigErr  = 1
	exitRuntimeErr = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sliceUs       int64
		inputWindowUs int64
		wakeupTimerUs int64
		migMax        float64
		migRefillUs   int64
		foregroundPID int
		numCPUs       int
		statsSecs     int
		verbose       bool
	)

	rootCmd := &cobra.Command{
		Use:   "lavdgo",
		Short: "Gaming-oriented CPU scheduler decision engine (userspace demo)",
		Long: `lavdgo drives the gaming-scheduler CORE -- classification, boost
and deadline engines, CPU selector, dispatcher, and aggregator -- against
a scripted demo workload, printing periodic metrics snapshots.

It does not attach to sched_ext; it exercises the same decision logic a
BPF scheduler would run, end to end, in plain userspace goroutines.`,
	}

	rootCmd.Flags().Int64Var(&sliceUs, "slice-us", config.Default().SliceNs/1000, "base scheduling slice, microseconds")
	rootCmd.Flags().Int64Var(&inputWindowUs, "input-window-us", 0, "override all input-lane windows, microseconds (0 keeps per-lane defaults)")
	rootCmd.Flags().Int64Var(&wakeupTimerUs, "wakeup-timer-us", config.Default().WakeupTimerNs/1000, "aggregator tick period, microseconds")
	rootCmd.Flags().Float64Var(&migMax, "mig-max", config.Default().MigMax, "migration token bucket capacity")
	rootCmd.Flags().Int64Var(&migRefillUs, "mig-refill-us", config.Default().MigRefillNs/1000, "migration token refill period, microseconds")
	rootCmd.Flags().IntVar(&foregroundPID, "foreground-pid", 0, "tgid to designate as the foreground workload (0: none)")
	rootCmd.Flags().IntVar(&numCPUs, "cpus", 4, "number of CPUs the demo workload runs across")
	rootCmd.Flags().IntVar(&statsSecs, "stats", 2, "metrics snapshot print interval, seconds (0 disables)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		logConfig := logging.DefaultConfig()
		if verbose {
			logConfig.Level = logging.LevelDebug
		}
		logging.SetDefault(logging.NewLogger(logConfig))

		cfg := config.Default()
		cfg.SliceNs = sliceUs * 1000
		cfg.WakeupTimerNs = wakeupTimerUs * 1000
		cfg.MigMax = migMax
		cfg.MigRefillNs = migRefillUs * 1000
		if inputWindowUs > 0 {
			ns := inputWindowUs * 1000
			for lane := 1; lane < len(cfg.InputWindowNs); lane++ {
				cfg.InputWindowNs[lane] = ns
			}
		}
		if err := cfg.Validate(); err != nil {
			return cliError{code: exitConfigErr, err: err}
		}

		hooks := sim.NewHookSource(64)
		sched, err := lavdgo.New(cfg, numCPUs, hooks, clock.Default)
		if err != nil {
			return cliError{code: exitConfigErr, err: err}
		}

		if foregroundPID != 0 {
			det := sim.NewGameDetector(sched.Classifier)
			det.Designate(uint32(foregroundPID), []pertask.ID{pertask.ID(foregroundPID)})
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go sched.Run(ctx)
		for cpu := 0; cpu < numCPUs; cpu++ {
			go runCPUWorker(ctx, sched, cpu)
		}
		go driveDemoWorkload(ctx, sched, hooks, numCPUs, foregroundPID)
		if statsSecs > 0 {
			go printStats(ctx, sched, time.Duration(statsSecs)*time.Second)
		}

		logging.Default().Info("lavdgo started", "cpus", numCPUs, "foreground_pid", foregroundPID)
		fmt.Printf("lavdgo running across %d simulated CPUs, press Ctrl+C to stop...\n", numCPUs)
		fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

		installStackDumpHandler()
		waitForShutdown(cancel, sched, hooks)
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		if ce, ok := err.(cliError); ok {
			fmt.Fprintln(os.Stderr, "lavdgo:", ce.err)
			return ce.code
		}
		fmt.Fprintln(os.Stderr, "lavdgo:", err)
		return exitRuntimeErr
	}
	return exitOK
}

// cliError carries an explicit exit code through cobra's error-returning
// RunE convention, so config-time failures (exit 1) and other runtime
// failures (exit 2) stay distinguishable at the top level.
type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

// runCPUWorker pins the calling goroutine's OS thread to cpu and runs
// that CPU's dispatch loop: on every 1ms tick, pop an entry (local
// queue first, then shared) and mark the CPU busy until the next tick,
// or idle if nothing was dispatched. Mirrors
// one hardware queue's runner goroutine in the teacher, generalized
// from "one goroutine per ublk queue" to "one goroutine per simulated
// scheduler CPU".
func runCPUWorker(ctx context.Context, sched *lavdgo.Scheduler, cpu int) {
	unpin, err := affinity.Pin(cpu)
	if err != nil {
		logging.Default().Debug("cpu affinity pin failed, continuing unpinned", "cpu", cpu, "error", err)
	}
	defer unpin()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := sched.DispatchOne(cpu); ok {
				sched.SetIdle(cpu, false)
			} else {
				sched.SetIdle(cpu, true)
			}
		}
	}
}

// driveDemoWorkload runs a small scripted game: one input-handler
// thread emitting mouse bursts, one GPU-submit thread presenting
// frames, and a compositor, continuously until ctx is cancelled.
func driveDemoWorkload(ctx context.Context, sched *lavdgo.Scheduler, hooks *sim.HookSource, numCPUs, foregroundTGID int) {
	const (
		inputTask      = pertask.ID(1001)
		gpuTask        = pertask.ID(1002)
		compositorTask = pertask.ID(1003)
	)

	mouse := sim.NewInputGenerator(sched.Rings, sched.Clock, ringbuf.LaneMouse, 0)
	gpu := sim.NewGPUSubmitGenerator(hooks, sched.Clock, gpuTask, uint32(foregroundTGID))
	compositor := sim.NewCompositorFrameGenerator(hooks, sched.Clock, compositorTask, uint32(foregroundTGID))

	frameTick := time.NewTicker(16 * time.Millisecond)
	inputTick := time.NewTicker(8 * time.Millisecond)
	defer frameTick.Stop()
	defer inputTick.Stop()

	cpu := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-inputTick.C:
			mouse.Burst(cpu%numCPUs, 2, 2, 0, 1)
			sched.OnWakeup(inputTask, uint32(foregroundTGID), cpu%numCPUs, -1, nil)
			cpu++
		case <-frameTick.C:
			gpu.SubmitFrame()
			compositor.Present()
			sched.OnWakeup(gpuTask, uint32(foregroundTGID), cpu%numCPUs, -1, nil)
			sched.OnWakeup(compositorTask, uint32(foregroundTGID), cpu%numCPUs, -1, nil)
		}
	}
}

// printStats prints a one-line metrics summary every interval, per
// spec.md §6(3)'s readable-snapshot contract.
func printStats(ctx context.Context, sched *lavdgo.Scheduler, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			snap := sched.Snapshot()
			fmt.Printf("[stats] mode=%s util=%.2f tasks=%d misses=%d direct=%d shared=%d migrations=%d blocked=%d\n",
				snap.Mode, snap.UtilizationEWMA, snap.TrackedTasks, snap.DeadlineMisses,
				snap.Global.DirectDispatches, snap.Global.SharedDispatches,
				snap.Global.Migrations, snap.Global.MigrationBlocked)
		}
	}
}

// installStackDumpHandler wires SIGUSR1 to a goroutine stack dump, to
// both stderr and a timestamped file -- matching the diagnostic handler
// every long-running lavdgo-family daemon carries.
func installStackDumpHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])

			filename := fmt.Sprintf("lavdgo-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\npid %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logging.Default().Info("stack trace written to file", "file", filename)
			}
		}
	}()
}

// waitForShutdown blocks for SIGINT/SIGTERM, then cancels the engine
// and gives it a bounded window to stop cleanly before returning.
func waitForShutdown(cancel context.CancelFunc, sched *lavdgo.Scheduler, hooks *sim.HookSource) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Default().Info("received shutdown signal")
	cancel()
	hooks.Close()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		logging.Default().Info("cleanup timeout, forcing exit")
	}
}
