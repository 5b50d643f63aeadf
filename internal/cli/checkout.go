package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/pos-checkout/internal/adapter/handler"
	"github.com/rl1809/pos-checkout/internal/core/validation"
)

// CheckoutOptions holds flags for the checkout command.
type CheckoutOptions struct {
	*RootOptions
	Items     []string
	Customer  string
	Payment   string
	Discount  string
	TaxRate   string
	Actor     string
	Terminal  string
	RequestID string
}

// NewCheckoutCommand creates the checkout command.
func NewCheckoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Check out a cart against the configured store",
		Long: `Check out a cart against the configured store.

Example:
  posd checkout --item SKU-1:3 --item SKU-2 --discount 5.00 --tax-rate 0.10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckout(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Items, "item", "i", nil, "cart line as <product>[:<qty>] (repeatable)")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "customer ID")
	cmd.Flags().StringVar(&opts.Payment, "payment", "cash", "payment method (cash|card|credit)")
	cmd.Flags().StringVar(&opts.Discount, "discount", "", "cart discount amount")
	cmd.Flags().StringVar(&opts.TaxRate, "tax-rate", "", "tax rate as a fraction, e.g. 0.10")
	cmd.Flags().StringVar(&opts.Actor, "actor", "cli", "identity recorded in the audit trail")
	cmd.Flags().StringVar(&opts.Terminal, "terminal", "cli", "terminal recorded in the audit trail")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "idempotency key (random when empty)")

	return cmd
}

func runCheckout(cmd *cobra.Command, opts *CheckoutOptions) error {
	req := handler.CheckoutRequest{
		RequestID:     opts.RequestID,
		CustomerID:    opts.Customer,
		PaymentMethod: opts.Payment,
		Discount:      opts.Discount,
		TaxRate:       opts.TaxRate,
		Actor:         opts.Actor,
		Terminal:      opts.Terminal,
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	for _, raw := range opts.Items {
		line, err := validation.ParseCartLine(raw)
		if err != nil {
			return WrapExitError(ExitFailure, "invalid --item", err)
		}
		req.Items = append(req.Items, handler.CartItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := handler.RunCheckout(cmd.Context(), a.Checkout, &req)
	if err != nil {
		return WrapExitError(ExitCommandError, "checkout", err)
	}
	if err := emit(cmd.OutOrStdout(), opts.Format, resp, func(w io.Writer) { printReceipt(w, resp) }); err != nil {
		return err
	}
	if !resp.Success {
		return NewExitError(ExitFailure, fmt.Sprintf("checkout failed (%s)", resp.Kind))
	}
	return nil
}

func printReceipt(w io.Writer, resp handler.CheckoutResponse) {
	if !resp.Success {
		fmt.Fprintf(w, "FAILED %s: %s\n", resp.Kind, resp.Message)
		return
	}
	tx := resp.Transaction
	fmt.Fprintf(w, "Invoice   %s\n", tx.InvoiceNo)
	fmt.Fprintf(w, "Payment   %s\n", tx.PaymentMethod)
	for _, l := range tx.Lines {
		fmt.Fprintf(w, "  %-16s %4d x %10s %10s\n", l.ProductID, l.Quantity, l.UnitPrice, l.LineTotal)
	}
	fmt.Fprintf(w, "Subtotal  %s\n", tx.Subtotal)
	fmt.Fprintf(w, "Discount  %s\n", tx.Discount)
	fmt.Fprintf(w, "Tax       %s\n", tx.Tax)
	fmt.Fprintf(w, "Total     %s\n", tx.Total)
	if resp.Kind != "" {
		fmt.Fprintf(w, "Warning   %s\n", resp.Message)
	}
}
