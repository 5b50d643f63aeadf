package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rl1809/pos-checkout/internal/app"
	"github.com/rl1809/pos-checkout/internal/config"
	"github.com/rl1809/pos-checkout/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Driver     string
	DSN        string
	LogLevel   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the posd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "posd",
		Short: "Point-of-sale checkout engine",
		Long: `Point-of-sale checkout engine.

Checkouts reserve stock, settle store credit and append an audit record as
one atomic step. The same engine backs the HTTP and gRPC servers (serve)
and the terminal commands below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "storage driver override (memory|sqlite3|mysql)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "storage DSN override")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCheckoutCommand(opts))
	cmd.AddCommand(NewProductCommand(opts))
	cmd.AddCommand(NewCustomerCommand(opts))

	return cmd
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.Driver != "" {
		cfg.Storage.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Storage.DSN = o.DSN
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// open builds the application from config. Logs go to the command's
// error stream so stdout stays machine-readable.
func (o *RootOptions) open(cmd *cobra.Command, tweak ...func(*config.Config)) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	for _, fn := range tweak {
		fn(cfg)
	}
	logger, err := logging.New(cfg.Service, cfg.Log.Level, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configure logging", err)
	}
	a, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open storage", err)
	}
	return a, nil
}
