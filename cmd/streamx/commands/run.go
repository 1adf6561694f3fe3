package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/streamx/pkg/cli"
	"github.com/haivivi/streamx/pkg/health"
	"github.com/haivivi/streamx/pkg/streamx"
	"github.com/haivivi/streamx/pkg/streamx/sources"
)

var (
	runCount  int
	runSource string
	runPrompt string
	runPrint  bool
	runJQ     string
	runSchema string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of streams and print the health snapshot",
	Long: `Run submits -n streams to the multiplexer, cycling through high, normal
and low priority, waits for all of them and prints the health snapshot.

Examples:
  streamx run -n 32
  streamx run --source openai --prompt "tell me a joke" --print
  streamx run -n 8 -o json
  streamx run --source openai --prompt "list three colors as JSON" --jq '.colors[]' --print`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runCount, "count", "n", 8, "number of streams")
	runCmd.Flags().StringVar(&runSource, "source", "synthetic", "chunk source: synthetic, openai, gemini")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "hello", "prompt for every stream")
	runCmd.Flags().BoolVar(&runPrint, "print", false, "print each stream's text once it finishes")
	runCmd.Flags().StringVar(&runJQ, "jq", "", "parse the output as JSON and emit the results of this jq expression")
	runCmd.Flags().StringVar(&runSchema, "schema", "", "parse the output as JSON and validate it against this JSON Schema file")
	rootCmd.AddCommand(runCmd)
}

var runPriorities = []streamx.Priority{streamx.PriorityHigh, streamx.PriorityNormal, streamx.PriorityLow}

func runRun(cmd *cobra.Command, _ []string) error {
	if runCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator(ctx, runSource)
	if err != nil {
		return err
	}
	if runJQ != "" || runSchema != "" {
		var schema []byte
		if runSchema != "" {
			if schema, err = os.ReadFile(runSchema); err != nil {
				return err
			}
		}
		if gen, err = sources.NewJSON(gen, runJQ, schema); err != nil {
			return err
		}
	}
	if err := a.warm(ctx); err != nil {
		return err
	}

	reporter := a.reporter()
	reportCtx, stopReport := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error {
		_ = reporter.Run(reportCtx)
		return nil
	})

	results, err := submitBatch(a, gen, runCount)
	if err != nil {
		stopReport()
		_ = eg.Wait()
		return err
	}
	interrupted := waitSinks(ctx, results)
	if interrupted {
		_ = a.mux.Close()
		waitSinks(context.Background(), results)
	}
	stopReport()
	_ = eg.Wait()

	if runPrint {
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "--- %s (%s)\n%s\n", r.id, r.prio, r.buf.String())
		}
	}
	if err := printSnapshot(cmd, a.mgr.Snapshot()); err != nil {
		return err
	}
	if verbose {
		fmt.Fprintln(cmd.OutOrStdout(), cli.RenderStreams(a.collector.All(), cli.NewStyles(cli.DefaultTheme)))
	}
	if interrupted {
		return ctx.Err()
	}
	return nil
}

// batchResult captures one stream's text output.
type batchResult struct {
	id   string
	prio streamx.Priority
	sink *frameSink
	buf  *lockedBuffer
}

func submitBatch(a *app, gen sources.Generator, n int) ([]*batchResult, error) {
	results := make([]*batchResult, 0, n)
	for i := range n {
		r := &batchResult{
			id:   fmt.Sprintf("run-%03d", i),
			prio: runPriorities[i%len(runPriorities)],
			buf:  &lockedBuffer{},
		}
		r.sink = newFrameSink(r.buf, formatText)
		if _, err := a.submit(r.id, gen, runPrompt, r.sink, r.prio); err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// waitSinks waits for every sink to close and reports whether ctx ended
// first.
func waitSinks(ctx context.Context, results []*batchResult) bool {
	for _, r := range results {
		select {
		case <-r.sink.Done():
		case <-ctx.Done():
			return true
		}
	}
	return false
}

// printSnapshot renders s with lipgloss for text output, or encodes it.
func printSnapshot(cmd *cobra.Command, s health.Snapshot) error {
	opts := outputOptions()
	opts.Writer = cmd.OutOrStdout()
	if opts.Format == cli.FormatText {
		fmt.Fprintln(opts.Writer, cli.RenderSnapshot(s, cli.NewStyles(cli.DefaultTheme)))
		return nil
	}
	return cli.Output(s, opts)
}

// warm pre-dials the configured endpoints. Failures are logged and do not
// stop the command.
func (a *app) warm(ctx context.Context) error {
	if len(a.cfg.WarmEndpoints) == 0 {
		return nil
	}
	pool, err := a.pool()
	if err != nil {
		return err
	}
	start := time.Now()
	n := pool.Warm(ctx, a.cfg.WarmEndpoints)
	a.logger.Info("streamx: endpoints warmed", "ok", n, "total", len(a.cfg.WarmEndpoints), "took", time.Since(start))
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
