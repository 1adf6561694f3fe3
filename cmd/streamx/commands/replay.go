package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/streamx/pkg/cli"
	"github.com/haivivi/streamx/pkg/streamx"
	"github.com/haivivi/streamx/pkg/streamx/sources"
)

var (
	replayPrompt     string
	replaySource     string
	replayTTL        time.Duration
	replayInvalidate bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <key>",
	Short: "Materialize a stream into the replay cache and print it",
	Long: `Replay looks key up in the replay cache. On a miss the stream is generated
in full, cached and persisted to the configured backend; later runs print
the cached chunks without generating again.

Examples:
  streamx replay greeting --prompt hello
  streamx replay greeting --invalidate`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayPrompt, "prompt", "hello", "prompt used on a cache miss")
	replayCmd.Flags().StringVar(&replaySource, "source", "synthetic", "chunk source: synthetic, openai, gemini")
	replayCmd.Flags().DurationVar(&replayTTL, "ttl", 0, "cache lifetime (default replay.ttl)")
	replayCmd.Flags().BoolVar(&replayInvalidate, "invalidate", false, "drop the cached entry instead of printing it")
	rootCmd.AddCommand(replayCmd)
}

// replayResult describes one replay.
type replayResult struct {
	Key    string   `json:"key" yaml:"key"`
	Cached bool     `json:"cached" yaml:"cached"`
	Chunks []string `json:"chunks" yaml:"chunks"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	key := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()

	cache, err := a.replayCache()
	if err != nil {
		return err
	}
	if replayInvalidate {
		if err := cache.Invalidate(ctx, key); err != nil {
			return err
		}
		cli.PrintSuccess("invalidated %s", key)
		return nil
	}

	gen, err := a.generator(ctx, replaySource)
	if err != nil {
		return err
	}
	cached := true
	size := cfg.Stream.BuilderSize()
	seq, err := cache.GetOrCreate(ctx, key, func(ctx context.Context) (streamx.Producer, error) {
		cached = false
		return sources.Open(ctx, gen, replayPrompt, size), nil
	}, replayTTL)
	if err != nil {
		return err
	}
	defer seq.Close()

	res := replayResult{Key: key, Cached: cached}
	for {
		c, err := seq.Next()
		if streamx.IsDone(err) {
			break
		}
		if err != nil {
			return err
		}
		res.Chunks = append(res.Chunks, chunkString(c))
	}

	opts := outputOptions()
	opts.Writer = cmd.OutOrStdout()
	if opts.Format != cli.FormatText {
		return cli.Output(res, opts)
	}
	for _, s := range res.Chunks {
		fmt.Fprint(opts.Writer, s)
	}
	fmt.Fprintln(opts.Writer)
	state := "generated"
	if cached {
		state = "from cache"
	}
	cli.PrintInfo("%s: %d chunks %s", key, len(res.Chunks), state)
	return nil
}

func chunkString(c *streamx.Chunk) string {
	switch p := c.Part.(type) {
	case streamx.Text:
		return string(p)
	case *streamx.Blob:
		return fmt.Sprintf("[blob %s %d bytes]", p.MIMEType, len(p.Data))
	}
	return fmt.Sprintf("%v", c.Part)
}
