package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rl1809/pos-checkout/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	HTTPAddr string
	GRPCAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC checkout servers",
		Long: `Run the HTTP and gRPC checkout servers until interrupted.

HTTP exposes POST /api/checkout, GET /health and GET /metrics.
gRPC exposes pos.v1.CheckoutService/Checkout with the json codec.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.open(cmd, func(cfg *config.Config) {
				if opts.HTTPAddr != "" {
					cfg.HTTP.Addr = opts.HTTPAddr
				}
				if opts.GRPCAddr != "" {
					cfg.GRPC.Addr = opts.GRPCAddr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "HTTP listen address override")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "gRPC listen address override")

	return cmd
}
