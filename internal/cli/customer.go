package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
	"github.com/rl1809/pos-checkout/internal/port"
)

// CustomerView is the printed form of a customer.
type CustomerView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Balance string `json:"balance"`
	Version int64  `json:"version"`
}

// NewCustomerCommand creates the customer command group.
func NewCustomerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers and store credit",
	}
	cmd.AddCommand(newCustomerAddCommand(rootOpts))
	cmd.AddCommand(newCustomerCreditCommand(rootOpts))
	cmd.AddCommand(newCustomerPhoneCommand(rootOpts))
	cmd.AddCommand(newCustomerShowCommand(rootOpts))
	return cmd
}

func newCustomerAddCommand(opts *RootOptions) *cobra.Command {
	var name, phone, balance string

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opening, err := validation.ParseAmount("balance", balance)
			if err != nil {
				return WrapExitError(ExitFailure, "invalid customer", err)
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			c := domain.Customer{ID: args[0], Name: name, Phone: phone, Balance: opening}
			if err := a.Accounts.CreateCustomer(cmd.Context(), c); err != nil {
				return WrapExitError(ExitFailure, "add customer", err)
			}
			return showCustomer(cmd, opts, a.Accounts, args[0])
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number, unique across customers")
	cmd.Flags().StringVar(&balance, "balance", "", "opening store credit")

	return cmd
}

func newCustomerCreditCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "credit <id> <amount>",
		Short: "Add store credit or record a debt repayment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := validation.ParseAmount("amount", args[1])
			if err != nil {
				return WrapExitError(ExitFailure, "invalid amount", err)
			}
			if amount.IsZero() {
				return NewExitError(ExitFailure, "amount must be > 0")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Accounts.Credit(cmd.Context(), args[0], amount); err != nil {
				return WrapExitError(ExitFailure, "credit customer", err)
			}
			return showCustomer(cmd, opts, a.Accounts, args[0])
		},
	}
}

func newCustomerPhoneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "phone <id> <phone>",
		Short: "Change a customer's phone number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Accounts.UpdatePhone(cmd.Context(), args[0], args[1]); err != nil {
				return WrapExitError(ExitFailure, "update phone", err)
			}
			return showCustomer(cmd, opts, a.Accounts, args[0])
		},
	}
}

func newCustomerShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return showCustomer(cmd, opts, a.Accounts, args[0])
		},
	}
}

func showCustomer(cmd *cobra.Command, opts *RootOptions, accounts port.CustomerAccount, id string) error {
	c, err := accounts.Customer(cmd.Context(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "read customer", err)
	}
	v := CustomerView{
		ID:      c.ID,
		Name:    c.Name,
		Phone:   c.Phone,
		Balance: c.Balance.StringFixed(domain.MoneyScale),
		Version: c.Version,
	}
	return emit(cmd.OutOrStdout(), opts.Format, v, func(w io.Writer) {
		fmt.Fprintf(w, "%-16s %-24s phone %s balance %s v%d\n", v.ID, v.Name, v.Phone, v.Balance, v.Version)
	})
}
