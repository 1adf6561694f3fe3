package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/streamx/pkg/connpool"
	"github.com/haivivi/streamx/pkg/health"
	"github.com/haivivi/streamx/pkg/replay"
	"github.com/haivivi/streamx/pkg/streamx"
	"github.com/haivivi/streamx/pkg/streamx/mux"
	"github.com/haivivi/streamx/pkg/streamx/sources"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve streams over HTTP and websocket",
	Long: `Serve streams over HTTP.

Routes:
  GET    /streams         stream one generation as text or msgpack frames
  GET    /ws              the same over a websocket
  DELETE /streams/{id}    cancel a stream
  GET    /healthz         health snapshot as JSON
  GET    /metrics         Prometheus metrics
  GET    /endpoints       pooled upstream connections

Query parameters for /streams and /ws:
  prompt    prompt text
  source    synthetic (default), openai or gemini
  priority  low, normal (default) or high
  id        stream id (default: generated)
  format    text (default) or msgpack
  replay    cache key; the stream is replayed from the replay cache
  jq        parse the output as JSON and emit the results of this jq expression

Examples:
  streamx serve --addr :8080
  curl -N 'localhost:8080/streams?prompt=hello'
  curl -X DELETE localhost:8080/streams/run-1`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	cache, err := a.replayCache()
	if err != nil {
		return err
	}
	pool, err := a.pool()
	if err != nil {
		return err
	}
	if n := pool.Warm(ctx, cfg.WarmEndpoints); len(cfg.WarmEndpoints) > 0 {
		logger.Info("streamx: endpoints warmed", "ok", n, "total", len(cfg.WarmEndpoints))
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           newServer(a, cache, pool).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("streamx: serving", "addr", serveAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-gctx.Done()
		// Cancel every stream so handlers blocked on their sinks return.
		_ = a.mux.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	eg.Go(func() error {
		_ = a.reporter().Run(gctx)
		return nil
	})
	eg.Go(func() error {
		_ = cache.Run(gctx, cfg.Replay.SweepInterval.Std())
		return nil
	})
	return eg.Wait()
}

// server exposes a mux over HTTP.
type server struct {
	app      *app
	cache    *replay.Cache
	pool     *connpool.Pool
	logger   *slog.Logger
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

func newServer(a *app, cache *replay.Cache, pool *connpool.Pool) *server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		health.NewPrometheusCollector("streamx", a.mgr),
		collectors.NewGoCollector(),
	)
	return &server{
		app:      a,
		cache:    cache,
		pool:     pool,
		logger:   a.logger,
		registry: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the route table.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /streams", s.handleStream)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("DELETE /streams/{id}", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /endpoints", s.handleEndpoints)
	return mux
}

// streamRequest is the parsed query of /streams and /ws.
type streamRequest struct {
	id       string
	prompt   string
	source   string
	priority streamx.Priority
	format   sinkFormat
	replay   string
	jq       string
}

func parseStreamRequest(r *http.Request) (*streamRequest, error) {
	q := r.URL.Query()
	prio, err := streamx.ParsePriority(q.Get("priority"))
	if err != nil {
		return nil, err
	}
	format, err := parseSinkFormat(q.Get("format"))
	if err != nil {
		return nil, err
	}
	id := q.Get("id")
	if id == "" {
		id = streamx.NewStreamID()
	}
	return &streamRequest{
		id:       id,
		prompt:   q.Get("prompt"),
		source:   q.Get("source"),
		priority: prio,
		format:   format,
		replay:   q.Get("replay"),
		jq:       q.Get("jq"),
	}, nil
}

// submit resolves the source of req and queues it with sink.
func (s *server) submit(ctx context.Context, req *streamRequest, sink streamx.Sink) (*mux.Ticket, int, error) {
	gen, err := s.app.generator(ctx, req.source)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	if req.jq != "" {
		if gen, err = sources.NewJSON(gen, req.jq, nil); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}
	if req.replay == "" {
		t, err := s.app.submit(req.id, gen, req.prompt, sink, req.priority)
		return t, submitStatus(err), err
	}

	size := s.app.cfg.Stream.BuilderSize()
	seq, err := s.cache.GetOrCreate(ctx, req.replay, func(ctx context.Context) (streamx.Producer, error) {
		return sources.Open(ctx, gen, req.prompt, size), nil
	}, 0)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, replay.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		return nil, status, err
	}
	t, err := s.app.mux.Submit(req.id, mux.Pull(seq), sink, req.priority)
	return t, submitStatus(err), err
}

func submitStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, streamx.ErrDuplicateStream):
		return http.StatusConflict
	case errors.Is(err, mux.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, streamx.ErrCancelled):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := parseStreamRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.format == formatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/x-msgpack")
	}
	w.Header().Set("X-Stream-ID", req.id)

	sink := newFrameSink(w, req.format)
	t, status, err := s.submit(r.Context(), req, sink)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	// A withdrawn ticket closed the sink without writing to it.
	if _, err := t.Wait(r.Context()); err != nil && r.Context().Err() == nil {
		http.Error(w, err.Error(), submitStatus(err))
		return
	}
	select {
	case <-sink.Done():
		return
	case <-r.Context().Done():
		s.logger.Debug("streamx: client gone", "stream", req.id)
		s.app.mux.Cancel(req.id)
	}
	// The sink may not be written once the handler returns.
	<-sink.Done()
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	req, err := parseStreamRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, http.Header{"X-Stream-ID": {req.id}})
	if err != nil {
		s.logger.Warn("streamx: websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	sink := newWSSink(conn, req.format)
	if _, _, err := s.submit(r.Context(), req, sink); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		return
	}

	// The client sends nothing; a read error means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	select {
	case <-sink.Done():
		return
	case <-gone:
		s.app.mux.Cancel(req.id)
	}
	<-sink.Done()
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.app.mux.Cancel(r.PathValue("id")) {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// healthResponse is the body of /healthz.
type healthResponse struct {
	Status   string          `json:"status"`
	Pending  int             `json:"pending"`
	Replay   int             `json:"replay_entries"`
	Snapshot health.Snapshot `json:"snapshot"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, healthResponse{
		Status:   "ok",
		Pending:  s.app.mux.Pending(),
		Replay:   s.cache.Len(),
		Snapshot: s.app.mgr.Snapshot(),
	})
}

// endpointInfo is one pooled endpoint in /endpoints.
type endpointInfo struct {
	Endpoint string   `json:"endpoint"`
	Conns    []string `json:"conns"`
}

func (s *server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	out := []endpointInfo{}
	for _, ep := range s.pool.Endpoints() {
		info := endpointInfo{Endpoint: ep}
		for _, c := range s.pool.Conns(ep) {
			info.Conns = append(info.Conns, c.ID)
		}
		out = append(out, info)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode: %v", err), http.StatusInternalServerError)
	}
}
