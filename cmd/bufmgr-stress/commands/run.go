package commands

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/config"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type runOptions struct {
	contexts    int
	buffers     int
	submissions int
	workers     int
	rate        float64
	banEvery    int
	latency     time.Duration
	seed        uint64
	stats       bool
}

var stressEngines = []kmd.EngineClass{kmd.EngineRender, kmd.EngineCompute, kmd.EngineCopy}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a stress workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			return runStress(cmd, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.contexts, "contexts", 3, "execution contexts")
	flags.IntVar(&opts.buffers, "buffers", 32, "shared buffer objects")
	flags.IntVar(&opts.submissions, "submissions", 1000, "total submissions")
	flags.IntVar(&opts.workers, "workers", 4, "concurrent submitters")
	flags.Float64Var(&opts.rate, "rate", 0, "submissions per second across all workers, 0 for unlimited")
	flags.IntVar(&opts.banEvery, "ban-every", 0, "ban the target queue on every nth exec, 0 to never ban")
	flags.DurationVar(&opts.latency, "latency", 100*time.Microsecond, "simulated batch execution time")
	flags.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flags.BoolVar(&opts.stats, "stats", true, "print the manager statistics when done")

	return cmd
}

func (o *runOptions) validate() error {
	if o.contexts < 1 || o.buffers < 1 || o.workers < 1 {
		return errors.Wrap(bufmgr.ErrInvalidArgument, "contexts, buffers and workers must be positive")
	}

	if o.submissions < 0 || o.rate < 0 || o.latency < 0 {
		return errors.Wrap(bufmgr.ErrInvalidArgument, "submissions, rate and latency cannot be negative")
	}

	// A ban on every exec would also ban every resubmission
	if o.banEvery == 1 || o.banEvery < 0 {
		return errors.Wrapf(bufmgr.ErrInvalidArgument, "ban-every must be 0 or at least 2, got %d", o.banEvery)
	}

	return nil
}

type stressRun struct {
	manager  *bufmgr.Manager
	contexts []bufmgr.ContextHandle
	buffers  []*bufmgr.BufferObject
	limiter  *rate.Limiter
	opts     *runOptions

	issued    atomic.Int64
	completed atomic.Int64
	mapped    atomic.Int64
}

func runStress(cmd *cobra.Command, cfg *config.Config, opts *runOptions) (err error) {
	err = opts.validate()
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	profiler, closeProfiler, err := config.NewProfilerLogger(cfg.Profiler.Log)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, closeProfiler())
	}()

	device := sim.New(sim.Options{Latency: opts.latency, BanEvery: opts.banEvery})

	createOptions := cfg.CreateOptions()
	createOptions.ProfilerLogger = profiler

	manager, err := bufmgr.New(logger, device, createOptions)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, manager.Destroy())
	}()

	run := &stressRun{
		manager: manager,
		limiter: rate.NewLimiter(rate.Inf, 1),
		opts:    opts,
	}
	if opts.rate > 0 {
		run.limiter = rate.NewLimiter(rate.Limit(opts.rate), 1)
	}

	for i := 0; i < opts.contexts; i++ {
		h, err := manager.CreateContext(bufmgr.ContextConfig{Engine: stressEngines[i%len(stressEngines)]})
		if err != nil {
			return err
		}
		run.contexts = append(run.contexts, h)
	}

	defer func() {
		for _, bo := range run.buffers {
			err = errors.CombineErrors(err, bo.Unreference())
		}
	}()
	for i := 0; i < opts.buffers; i++ {
		zone := vma.ZoneSystem
		if i%4 == 3 {
			zone = vma.ZoneDevice
		}

		bo, err := manager.Allocate(bufmgr.AllocateInfo{
			Name: fmt.Sprintf("stress%d", i),
			Size: uint64(4096 * (1 + i%16)),
			Zone: zone,
		})
		if err != nil {
			return err
		}
		run.buffers = append(run.buffers, bo)
	}

	start := time.Now()

	group, ctx := errgroup.WithContext(cmd.Context())
	for worker := 0; worker < opts.workers; worker++ {
		rng := rand.New(rand.NewPCG(opts.seed, uint64(worker)))
		group.Go(func() error {
			return run.work(ctx, rng, fmt.Sprintf("batch%d", worker))
		})
	}

	err = group.Wait()
	if err != nil {
		return err
	}

	for _, bo := range run.buffers {
		err = bo.WaitRendering()
		if err != nil {
			return err
		}
	}

	err = run.report(cmd, time.Since(start), cfg)
	if err != nil {
		return err
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "stress run complete",
		slog.Int64("submissions", run.completed.Load()),
		slog.Int64("mappings", run.mapped.Load()),
	)

	return nil
}

// work submits until the shared submission budget is spent
func (r *stressRun) work(ctx context.Context, rng *rand.Rand, name string) (err error) {
	batch, err := r.manager.Allocate(bufmgr.AllocateInfo{Name: name, Size: 4096})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, batch.Unreference())
	}()

	for r.issued.Add(1) <= int64(r.opts.submissions) {
		err = r.limiter.Wait(ctx)
		if err != nil {
			return err
		}

		err = r.submitOne(rng, batch)
		if err != nil {
			return err
		}
		r.completed.Add(1)

		// Occasionally read a buffer back on the CPU
		if rng.IntN(16) == 0 {
			err = r.mapOne(rng)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *stressRun) submitOne(rng *rand.Rand, batch *bufmgr.BufferObject) (err error) {
	cmd, err := r.manager.NewCmdBuffer(batch)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, cmd.Release())
	}()

	touches := 1 + rng.IntN(4)
	for i := 0; i < touches; i++ {
		access := bufmgr.AccessRead
		if rng.IntN(3) == 0 {
			access = bufmgr.AccessWrite
		}

		err = cmd.Add(r.buffers[rng.IntN(len(r.buffers))], access)
		if err != nil {
			return err
		}
	}

	return r.manager.Submit(cmd, r.contexts[rng.IntN(len(r.contexts))])
}

func (r *stressRun) mapOne(rng *rand.Rand) error {
	bo := r.buffers[rng.IntN(len(r.buffers))]

	_, err := bo.Map(false)
	if err != nil {
		return err
	}
	r.mapped.Add(1)

	return bo.Unmap()
}

func (r *stressRun) report(cmd *cobra.Command, elapsed time.Duration, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "submissions: %d in %s (%s sync, pool cap %d)\n",
		r.completed.Load(), elapsed.Round(time.Millisecond), cfg.SyncMode(), cfg.Fence.PoolCap)

	var errs error
	for _, h := range r.contexts {
		resets, err := r.manager.ContextResetStats(h)
		if err != nil {
			return err
		}

		fences, err := r.manager.ContextFenceStats(h)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "context %s: %d submissions, %d resets, state %s, peak live fences %d\n",
			h, resets.Submissions, resets.ResetCount, resets.State, fences.PeakLive)

		if fences.PeakLive > cfg.Fence.PoolCap {
			errs = errors.CombineErrors(errs, errors.Newf("context %s peaked at %d live fences, above the cap of %d",
				h, fences.PeakLive, cfg.Fence.PoolCap))
		}
	}

	err := r.manager.Validate()
	if err != nil {
		errs = errors.CombineErrors(errs, err)
	}

	if r.opts.stats {
		fmt.Fprintln(out, r.manager.BuildStatsString())
	}

	return errs
}
