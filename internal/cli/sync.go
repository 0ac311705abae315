package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	// Database drivers served by --dsn.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/dialect/memory"
	"github.com/syssam/nestwrite/dialect/sql"
	"github.com/syssam/nestwrite/dialect/sql/sqlgraph"
	"github.com/syssam/nestwrite/graphsync"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/schema"
)

// SyncOptions holds the flags of the sync command.
type SyncOptions struct {
	DSN      string
	Set      []string
	Parallel int
	Watch    bool
	Debug    bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync <payload>...",
		Short: "Sync payload files into the database",
		Long: `Sync writes every root node of the payload files (JSON, YAML or msgpack,
picked by extension), each in its own transaction, and prints the stored
trees as JSON.

Values set with --set take priority over the payload. The part before the
last dot is the relation path, the empty path addresses the root:

  nestwrite sync --schema defs.yaml --node ProfileNode --dsn sqlite://app.db \
      --set bio=imported --set avatars.source=import profile.json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.DSN, "dsn", "memory://", "database url (memory://, sqlite://, postgres://, mysql://)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "override a field, as path.field=value")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "payloads synced at once (0 for no limit)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "sync the payload files again when they change")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "log every statement")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *SyncOptions, files []string) error {
	logger := rootOpts.logger(cmd.ErrOrStderr(), opts.Debug)
	spec, n, err := loadNode(rootOpts)
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --set", err)
	}
	drv, stats, err := openDriver(opts.DSN, spec.Graph, logger, opts.Debug)
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer drv.Close()
	s, err := graphsync.New(spec.Graph, graphsync.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "configure", err)
	}
	r := &syncer{
		s:         s,
		drv:       drv,
		queries:   stats,
		node:      n,
		overrides: overrides,
		parallel:  opts.Parallel,
		out:       cmd.OutOrStdout(),
		logger:    logger,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.run(ctx, files); err != nil {
		return err
	}
	if opts.Watch {
		return r.watch(ctx, files)
	}
	return nil
}

type syncer struct {
	s         *graphsync.Synchronizer
	drv       dialect.Driver
	queries   *sql.StatsDriver
	node      *schema.Node
	overrides map[string]map[string]any
	parallel  int
	out       io.Writer
	logger    *slog.Logger
}

// run syncs the files and prints the stored trees.
func (r *syncer) run(ctx context.Context, files []string) error {
	var jobs []graphsync.Job
	for _, name := range files {
		b, err := os.ReadFile(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "read payload", err)
		}
		nodes, err := payload.DecodeAll(payload.FormatOf(name), b)
		if err != nil {
			return WrapExitError(ExitCommandError, name, err)
		}
		for _, p := range nodes {
			jobs = append(jobs, graphsync.Job{
				Node:    r.node,
				Payload: p,
				Options: []graphsync.CallOption{graphsync.WithOverrides(r.overrides)},
			})
		}
	}
	entities, err := r.s.SyncAll(ctx, r.drv, jobs, r.parallel)
	if err != nil {
		return WrapExitError(ExitFailure, "sync", err)
	}
	trees := make([]payload.Node, 0, len(entities))
	for _, e := range entities {
		tree, err := r.s.Represent(ctx, r.drv, r.node, e)
		if err != nil {
			return WrapExitError(ExitFailure, "read back", err)
		}
		trees = append(trees, tree)
	}
	r.stats()
	b, err := json.MarshalIndent(trees, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.out, string(b))
	return err
}

func (r *syncer) stats() {
	if drv, ok := r.drv.(*memory.Driver); ok {
		r.logger.Debug("stats", "writes", drv.Stats().Snapshot().Writes())
	}
	if r.queries != nil {
		r.logger.Debug("stats", "statements", r.queries.Stats().Snapshot().String())
	}
}

// watch syncs a payload file again every time it is written, until the
// context is done. Failed syncs are logged and do not stop the watch.
func (r *syncer) watch(ctx context.Context, files []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "watch", err)
	}
	defer w.Close()
	watched := make(map[string]bool, len(files))
	for _, name := range files {
		abs, err := filepath.Abs(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "watch", err)
		}
		watched[abs] = true
		// Editors replace files on save, so the directory is watched.
		if err := w.Add(filepath.Dir(abs)); err != nil {
			return WrapExitError(ExitCommandError, "watch", err)
		}
	}
	r.logger.Info("watching", "files", len(files))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watch", "error", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[ev.Name] || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := r.run(ctx, []string{ev.Name}); err != nil {
				r.logger.Error("resync", "file", ev.Name, "error", err)
			}
		}
	}
}

// parseOverrides parses path.field=value pairs. Values are decoded as
// JSON when they parse as such and kept as strings otherwise.
func parseOverrides(sets []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q: expected path.field=value", s)
		}
		path, name := "", key
		if i := strings.LastIndexByte(key, '.'); i >= 0 {
			path, name = key[:i], key[i+1:]
		}
		if name == "" {
			return nil, fmt.Errorf("%q: missing field name", s)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		if out[path] == nil {
			out[path] = make(map[string]any)
		}
		out[path][name] = v
	}
	return out, nil
}

func parseValue(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw, nil
	}
	return payload.Normalize(v)
}

var errScheme = errors.New("unsupported scheme")

// openDriver opens the storage addressed by a database url. SQL backends
// are wrapped with query statistics and, in debug mode, statement logging.
func openDriver(dsn string, g *schema.Graph, logger *slog.Logger, debug bool) (dialect.Driver, *sql.StatsDriver, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, nil, fmt.Errorf("%q: missing scheme", dsn)
	}
	var name, source string
	switch scheme {
	case "memory":
		return memory.New(g), nil, nil
	case "sqlite", "sqlite3":
		name, source = dialect.SQLite, "file:"+rest
		if !strings.Contains(rest, "?") {
			source += "?_pragma=foreign_keys(1)"
		}
	case "postgres", "postgresql":
		name, source = dialect.Postgres, dsn
	case "mysql":
		name, source = dialect.MySQL, rest
	default:
		return nil, nil, fmt.Errorf("%q: %w", scheme, errScheme)
	}
	drv, err := sql.Open(name, source)
	if err != nil {
		return nil, nil, err
	}
	if name == dialect.SQLite {
		drv.DB().SetMaxOpenConns(1)
	}
	stats := sql.NewStatsDriver(drv, sql.WithSlowQueryLog(logger))
	var b sql.Backend = stats
	if debug {
		b = sql.NewDebugDriver(stats, logger)
	}
	return sqlgraph.NewStore(g, b), stats, nil
}
