package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/chartsync/internal/bridge"
	"github.com/roach88/chartsync/internal/chart"
	"github.com/roach88/chartsync/internal/config"
	"github.com/roach88/chartsync/internal/loop"
	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/render"
	"github.com/roach88/chartsync/internal/specload"
	"github.com/roach88/chartsync/internal/store"
	"github.com/roach88/chartsync/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	RedisURL string
	Channel  string
	Mount    string
	Debounce time.Duration
	MaxWait  time.Duration
	Pulse    string
	Restore  bool

	// SessionIDs overrides the session ID generator (for testing).
	SessionIDs bridge.IDGenerator
}

// link is a peer transport: it receives flushes and serves inbound
// envelopes.
type link interface {
	model.Sink
	Serve(ctx context.Context, sched loop.Scheduler, m *model.Model) error
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <spec>",
		Short: "Embed a spec and sync it with a peer",
		Long: `Build the view for a spec and keep it in sync with a peer.

The spec is a .cue, .yaml or .json file, or a directory of CUE files.
Without --redis the peer speaks newline-delimited JSON envelopes on
stdin/stdout; run exits when stdin closes. With --redis (or REDIS_URL) the
peer publishes to <channel>:in and receives flushes on <channel>:out.

With --db every flush and embed attempt is recorded; --restore seeds the
model from the last recorded values before the first embed.

Example:
  chartsync run chart.cue
  chartsync run --db ./chartsync.db --restore chart.yaml
  chartsync run --redis redis://localhost:6379/0 --channel demo chart.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database recording flushes and embeds")
	cmd.Flags().StringVar(&opts.RedisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL for the pub/sub transport (default $REDIS_URL)")
	cmd.Flags().StringVar(&opts.Channel, "channel", transport.DefaultChannel, "Redis channel prefix")
	cmd.Flags().StringVar(&opts.Mount, "mount", bridge.DefaultMount, "mount target")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", bridge.DefaultDelay, "coalescing window for outbound writes")
	cmd.Flags().DurationVar(&opts.MaxWait, "max-wait", 0, "maximum delay of an outbound write while changes keep arriving (0 disables)")
	cmd.Flags().StringVar(&opts.Pulse, "pulse", "sync", "pulse mode after peer writes (sync|async)")
	cmd.Flags().BoolVar(&opts.Restore, "restore", false, "seed the model from the database before embedding")

	return cmd
}

// resolveConfig layers the config file, then explicitly set flags, over
// the defaults.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = opts.Database
	}
	if flags.Changed("redis") || cfg.Redis.URL == "" {
		cfg.Redis.URL = opts.RedisURL
	}
	if flags.Changed("channel") {
		cfg.Redis.Channel = opts.Channel
	}
	if flags.Changed("mount") {
		cfg.Mount = opts.Mount
	}
	if flags.Changed("debounce") {
		cfg.DebounceMS = float64(opts.Debounce) / float64(time.Millisecond)
	}
	if flags.Changed("max-wait") {
		cfg.MaxWaitMS = float64(opts.MaxWait) / float64(time.Millisecond)
	}
	if flags.Changed("pulse") {
		cfg.Pulse = opts.Pulse
	}
	if flags.Changed("restore") {
		cfg.Restore = opts.Restore
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.Restore && cfg.DB == "" {
		return cfg, errors.New("--restore requires --db")
	}
	return cfg, nil
}

func runSync(opts *RunOptions, specPath string, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	log := newLogger(cfg.LogLevel, opts.Verbose)

	loaded, err := specload.Load(specPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load spec", err)
	}
	analysis, err := chart.Analyze(loaded.Spec)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid spec params", err)
	}
	log.Info("spec loaded",
		"path", loaded.Path,
		"format", string(loaded.Format),
		"selections", len(analysis.SelectionWatches),
		"params", len(analysis.ParamWatches),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	values := make(map[string]any)
	modelOpts := []model.Option{model.WithLogger(log)}
	bridgeOpts := []bridge.Option{bridge.WithConfig(cfg.Bridge()), bridge.WithLogger(log)}
	if opts.SessionIDs != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithSessionIDs(opts.SessionIDs))
	}

	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if cfg.Restore {
			restored, seq, err := st.Latest(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to restore state", err)
			}
			values = restored
			modelOpts = append(modelOpts, model.WithClock(model.NewClockAt(seq)))
			bridgeOpts = append(bridgeOpts, bridge.WithRestore(restored))
			log.Info("state restored", "keys", len(restored), "seq", seq)
		}
		modelOpts = append(modelOpts, model.WithSink(st))
		bridgeOpts = append(bridgeOpts, bridge.WithJournal(st))
	}

	for k, v := range analysis.ModelValues() {
		values[k] = v
	}
	values[bridge.KeySpec] = loaded.Spec

	peer, closePeer, err := openLink(ctx, cfg, cmd, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect transport", err)
	}
	defer closePeer()

	lp := loop.New(log)
	m := model.New(append(modelOpts, model.WithValues(values), model.WithSink(peer))...)
	b := bridge.New(m, render.NewReference(lp, render.WithLogger(log)), lp, bridgeOpts...)

	lp.Post(func() {
		if err := b.Start(ctx); err != nil {
			log.Error("initial embed failed", "error", err)
		}
	})

	serveErr := make(chan error, 1)
	go func() {
		err := peer.Serve(ctx, lp, m)
		serveErr <- err
		// Stop behind whatever the peer queued last.
		if !lp.Post(cancel) {
			cancel()
		}
	}()

	fmt.Fprintln(cmd.ErrOrStderr(), "chartsync running. Press Ctrl-C to stop.")
	if err := lp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "loop error", err)
	}
	b.Close()

	if err := <-serveErr; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, loop.ErrStopped) {
		return WrapExitError(ExitFailure, "transport error", err)
	}
	log.Info("chartsync stopped", "state", b.State().String())
	return nil
}

// openLink picks Redis when a URL is configured, stdio otherwise.
func openLink(ctx context.Context, cfg config.Config, cmd *cobra.Command, log *slog.Logger) (link, func(), error) {
	if cfg.Redis.URL == "" {
		return transport.NewStdio(cmd.InOrStdin(), cmd.OutOrStdout(), log), func() {}, nil
	}
	r, err := transport.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.Channel, log)
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(); err != nil {
			log.Error("error closing redis", "error", err)
		}
	}, nil
}
