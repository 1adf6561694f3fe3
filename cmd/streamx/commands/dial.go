package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/streamx/pkg/cli"
	"github.com/haivivi/streamx/pkg/connpool"
)

var (
	dialSend    string
	dialTimeout time.Duration
)

var dialCmd = &cobra.Command{
	Use:   "dial [endpoint...]",
	Short: "Connect to endpoints with retry and backoff",
	Long: `Dial connects to each endpoint through the reconnecting pool and prints
every backoff wait. Without arguments the warm_endpoints of the config file
are dialed.

Endpoints are tcp://, tls://, ws:// or wss:// URLs, or host:port.

Examples:
  streamx dial tcp://localhost:9000
  streamx dial ws://localhost:8080/echo --send ping`,
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringVar(&dialSend, "send", "", "write this message and print the reply")
	dialCmd.Flags().DurationVar(&dialTimeout, "read-timeout", 5*time.Second, "how long to wait for a reply to --send")
	rootCmd.AddCommand(dialCmd)
}

// dialResult is the outcome for one endpoint.
type dialResult struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	ConnID   string `json:"conn_id,omitempty" yaml:"conn_id,omitempty"`
	Reply    string `json:"reply,omitempty" yaml:"reply,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runDial(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	endpoints := args
	if len(endpoints) == 0 {
		endpoints = cfg.WarmEndpoints
	}
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints given and warm_endpoints is empty")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	rc, err := connpool.NewReconnector(cfg.Reconnect, nil,
		connpool.WithReconnectorLogger(logger),
		connpool.WithOnRetry(func(endpoint string, attempt int, delay time.Duration, err error) {
			cli.PrintInfo("%s: attempt %d failed (%v), retrying in %s", endpoint, attempt, err, cli.FormatDuration(delay))
		}),
	)
	if err != nil {
		return err
	}
	pool := connpool.NewPool(rc, connpool.WithPoolLogger(logger))
	defer pool.Close()

	results := make([]dialResult, 0, len(endpoints))
	failed := 0
	for _, ep := range endpoints {
		r := dialResult{Endpoint: ep}
		conn, err := pool.Acquire(ctx, ep)
		if err != nil {
			r.Error = err.Error()
			failed++
			results = append(results, r)
			continue
		}
		r.ConnID = conn.ID
		if dialSend != "" {
			reply, err := echo(conn, dialSend, dialTimeout)
			if err != nil {
				r.Error = err.Error()
				failed++
			}
			r.Reply = reply
		}
		results = append(results, r)
	}

	opts := outputOptions()
	opts.Writer = cmd.OutOrStdout()
	if opts.Format == cli.FormatText {
		for _, r := range results {
			switch {
			case r.Error != "":
				cli.PrintError("%s: %s", r.Endpoint, r.Error)
			case r.Reply != "":
				fmt.Fprintf(opts.Writer, "%s %s: %s\n", r.Endpoint, r.ConnID, r.Reply)
			default:
				fmt.Fprintf(opts.Writer, "%s %s: connected\n", r.Endpoint, r.ConnID)
			}
		}
	} else if err := cli.Output(results, opts); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d endpoints failed", failed, len(endpoints))
	}
	return nil
}

// echo writes msg and reads one reply within timeout.
func echo(conn *connpool.Conn, msg string, timeout time.Duration) (string, error) {
	if _, err := io.WriteString(conn, msg); err != nil {
		return "", err
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
