package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/queue"
)

type benchOptions struct {
	items   int
	limit   int
	work    time.Duration
	reports int
}

type benchResult struct {
	benchOptions
	maxConcurrent int64
	progress      int64
	elapsed       time.Duration
}

func newBenchCommand() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Push synthetic items through an in-process queue and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runBench(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderBench(res, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.items, "items", "n", 1000, "number of items to submit")
	cmd.Flags().IntVarP(&opts.limit, "limit", "l", 4, "concurrency limit")
	cmd.Flags().DurationVar(&opts.work, "work", time.Millisecond, "time each item spends executing")
	cmd.Flags().IntVar(&opts.reports, "reports", 1, "progress reports per item")
	return cmd
}

// runBench submits opts.items items, starts the queue and waits for every
// item to finish.
func runBench(ctx context.Context, opts benchOptions) (benchResult, error) {
	res := benchResult{benchOptions: opts}
	var running atomic.Int64

	execute := func(ctx context.Context, _ int, _ queue.ID, report func(int)) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			cur := atomic.LoadInt64(&res.maxConcurrent)
			if n <= cur || atomic.CompareAndSwapInt64(&res.maxConcurrent, cur, n) {
				break
			}
		}
		for i := range opts.reports {
			report(i)
		}
		select {
		case <-time.After(opts.work):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q, err := queue.New(ctx, queue.Options[int, int]{
		ConcurrencyLimit: opts.limit,
		Execute:          execute,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		return res, err
	}
	defer q.Close()

	handles := make([]*queue.ItemHandle[int], 0, opts.items)
	for i := range opts.items {
		h, err := q.Add(i)
		if err != nil {
			return res, err
		}
		handles = append(handles, h)
	}

	began := time.Now()
	run, err := q.Start()
	if err != nil {
		return res, err
	}
	defer run.Cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(handles))
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var seen int64
			for range h.Progress(ctx) {
				seen++
			}
			atomic.AddInt64(&res.progress, seen)
			if ctx.Err() != nil {
				errs <- ctx.Err()
			}
		}()
	}
	wg.Wait()
	res.elapsed = time.Since(began)

	select {
	case err := <-errs:
		return res, err
	default:
		return res, nil
	}
}

func renderBench(res benchResult, colorize bool) string {
	throughput := 0.0
	if res.elapsed > 0 {
		throughput = float64(res.items) / res.elapsed.Seconds()
	}
	headers := []string{"Items", "Limit", "Max concurrent", "Progress events", "Elapsed", "Items/s"}
	rows := [][]string{{
		fmt.Sprint(res.items),
		fmt.Sprint(res.limit),
		fmt.Sprint(res.maxConcurrent),
		fmt.Sprint(res.progress),
		res.elapsed.Round(time.Millisecond).String(),
		fmt.Sprintf("%.1f", throughput),
	}}
	aligns := []columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}
	return renderTable(headers, rows, aligns, colorize)
}
