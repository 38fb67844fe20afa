package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/conductor"
	"github.com/petrijr/conductor/internal/persistence"
)

// Output formats accepted by -o.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// app carries the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	output  string

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "conductorctl",
		Short: "Drive stored workflow conductors",
		Long: `conductorctl creates workflow conductors, hands out their runnable tasks
and applies action and workflow events to them. Conductors are stored as
snapshots in sqlite, postgres, redis or mongo.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "Path to config file (default: ./conductorctl.yaml)")
	flags.StringVarP(&a.output, "output", "o", formatText, "Output format (text|json|yaml)")
	flags.String("store", "", "Store driver (sqlite|postgres|redis|mongo)")
	flags.String("dsn", "", "Store connection string")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	_ = a.v.BindPFlag("store.driver", flags.Lookup("store"))
	_ = a.v.BindPFlag("store.dsn", flags.Lookup("dsn"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		a.newInitCmd(),
		a.newNextCmd(),
		a.newEventCmd(),
		a.newRequestCmd(),
		a.newInspectCmd(),
		a.newListCmd(),
		a.newHistoryCmd(),
		a.newDeleteCmd(),
	)
	return root
}

// load runs before every command.
func (a *app) load(cmd *cobra.Command, args []string) error {
	switch a.output {
	case formatText, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	level, _ := cfg.Log.level()
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// withBackend opens the store for the duration of fn.
func (a *app) withBackend(ctx context.Context, fn func(b *backend) error) error {
	b, err := openBackend(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}()
	return fn(b)
}

func (a *app) conductorConfig(b *backend) conductor.Config {
	return conductor.Config{
		Observer: conductor.NewCompositeObserver(
			conductor.NewLoggingObserver(a.logger),
			persistence.NewHistoryObserver(b.Events),
		),
		Logger: a.logger,
	}
}

// mutate restores conductor id under its lease, applies fn and saves the
// result. Nothing is saved when fn fails.
func (a *app) mutate(ctx context.Context, b *backend, id string, fn func(ctx context.Context, c *conductor.Conductor) error) (*conductor.Conductor, error) {
	var c *conductor.Conductor
	err := persistence.WithLease(ctx, b.Snapshots, id, a.cfg.Lease.Owner, a.cfg.Lease.TTL, func(ctx context.Context) error {
		var err error
		c, err = conductor.Resume(ctx, b.Snapshots, id, a.conductorConfig(b))
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		return b.Snapshots.Save(ctx, c.Serialize())
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return c, nil
}

// render writes v in the selected output format. text prints the human
// readable form.
func (a *app) render(w io.Writer, v any, text func(w io.Writer) error) error {
	switch a.output {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return text(w)
}
