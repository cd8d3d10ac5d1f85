package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/chiron/internal/cache"
	"github.com/MrSnakeDoc/chiron/internal/config"
	"github.com/MrSnakeDoc/chiron/internal/engine"
	"github.com/MrSnakeDoc/chiron/internal/errs"
	"github.com/MrSnakeDoc/chiron/internal/logger"
	"github.com/MrSnakeDoc/chiron/internal/metrics"
	"github.com/MrSnakeDoc/chiron/internal/middleware"
	"github.com/MrSnakeDoc/chiron/internal/render"
	"github.com/MrSnakeDoc/chiron/internal/store"
	"github.com/MrSnakeDoc/chiron/internal/utils"
)

const shutdownTimeout = 5 * time.Second

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the dashboard in sync and print every change",
		Long: `Keep the dashboard in sync until interrupted.

The last cached dashboard is shown first, then a fetch runs and the stream
connects. Every cache change reprints the dashboard; connection changes print
a status line. Send SIGUSR1 to request a refresh (rate limited) and SIGCONT
after resuming a stopped job.

Examples:
  chiron watch                         # Stream over SSE and poll
  chiron watch --transport websocket   # Stream over a WebSocket
  chiron watch --no-stream             # Poll the summary endpoint only
  chiron watch --metrics-addr :9464    # Expose Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := middleware.Get[*config.Config](cmd, middleware.CtxKeyConfig)
			if err != nil {
				return err
			}
			if err := applyWatchFlags(cmd, cfg); err != nil {
				return err
			}
			return runWatch(cmd, cfg)
		},
	}

	cmd.Flags().Bool("no-stream", false, "Disable the push stream and rely on polling")
	cmd.Flags().String("transport", "", "Stream transport: sse or websocket")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func applyWatchFlags(cmd *cobra.Command, cfg *config.Config) error {
	noStream, _ := cmd.Flags().GetBool("no-stream")
	transport, _ := cmd.Flags().GetString("transport")

	if noStream && cmd.Flags().Changed("transport") {
		return middleware.FlagComboError(errs.NoStreamWithTransport, "watch")
	}
	if noStream {
		cfg.Stream.Enabled = false
	}
	if cmd.Flags().Changed("transport") {
		cfg.Stream.Enabled = true
		cfg.Stream.Transport = transport
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	return cfg.Validate()
}

func runWatch(cmd *cobra.Command, cfg *config.Config) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := store.Open(cfg.Cache, config.CacheKey)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer utils.Close(p)

	sigs, stopSigs := engine.NotifySignals()
	defer stopSigs()

	e, err := engine.Build(cfg, p, engine.BuildOptions{Signals: sigs})
	if err != nil {
		return err
	}

	view := newWatchView(render.New(cmd.OutOrStdout()))
	defer e.Cache().Subscribe(view.entry)()
	defer e.Subscribe(view.status)()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr)
		defer utils.Try(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	logger.Info("Watching %s", cfg.API.BaseURL)
	runErr := e.Run(ctx)

	cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Close(cctx); err != nil {
		logger.Warn("could not persist the dashboard: %v", err)
	}
	return runErr
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError("metrics server: %v", err)
		}
	}()
	logger.Info("Serving metrics on %s/metrics", addr)
	return srv
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// watchView serialises terminal output from the cache and engine callbacks.
// Status lines are printed only when the connection, the fetch error or the
// stream error changes.
type watchView struct {
	r *render.Renderer

	mu       sync.Mutex
	lastConn string
	lastErr  string
}

func newWatchView(r *render.Renderer) *watchView {
	return &watchView{r: r}
}

func (v *watchView) entry(e cache.Entry) {
	if !e.Present {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.r.Entry(e); err != nil {
		logger.Debug("render failed: %v", err)
	}
}

func (v *watchView) status(st engine.Status) {
	conn := st.Connection.String()
	errText := errString(st.LastError) + "|" + errString(st.StreamError)

	v.mu.Lock()
	defer v.mu.Unlock()
	if conn == v.lastConn && errText == v.lastErr {
		return
	}
	v.lastConn, v.lastErr = conn, errText
	if err := v.r.Status(st); err != nil {
		logger.Debug("render failed: %v", err)
	}
}
