package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
	"github.com/rl1809/pos-checkout/internal/port"
)

const stockAdjustmentReason = "Stock adjustment"

// ProductView is the printed form of a product.
type ProductView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	SalePrice string `json:"sale_price"`
	Cost      string `json:"cost"`
	Discount  string `json:"discount_percent"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
	LowStock  bool   `json:"low_stock"`
	Version   int64  `json:"version"`
}

func newProductView(p domain.Product) ProductView {
	return ProductView{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price.StringFixed(domain.MoneyScale),
		SalePrice: p.SalePrice().StringFixed(domain.MoneyScale),
		Cost:      p.Cost.StringFixed(domain.MoneyScale),
		Discount:  p.DiscountPercent.String(),
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		LowStock:  p.LowStock(),
		Version:   p.Version,
	}
}

// NewProductCommand creates the product command group.
func NewProductCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage catalog prices and stock",
	}
	cmd.AddCommand(newProductSetCommand(rootOpts))
	cmd.AddCommand(newProductAdjustCommand(rootOpts))
	cmd.AddCommand(newProductStockCommand(rootOpts))
	cmd.AddCommand(newProductShowCommand(rootOpts))
	return cmd
}

func newProductSetCommand(opts *RootOptions) *cobra.Command {
	var name, price, cost, discount string
	var stock, minStock int

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or replace a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := domain.Product{ID: args[0], Name: name, Stock: stock, MinStock: minStock}
			var err error
			if p.Price, err = validation.ParseAmount("price", price); err != nil {
				return WrapExitError(ExitFailure, "invalid product", err)
			}
			if p.Cost, err = validation.ParseAmount("cost", cost); err != nil {
				return WrapExitError(ExitFailure, "invalid product", err)
			}
			if p.DiscountPercent, err = validation.ParseRate("discount", discount); err != nil {
				return WrapExitError(ExitFailure, "invalid product", err)
			}
			if p.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
				return WrapExitError(ExitFailure, "invalid product", domain.InvalidInput("discount must be <= 100, got %s", discount))
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Inventory.UpsertProduct(cmd.Context(), p); err != nil {
				return WrapExitError(ExitFailure, "set product", err)
			}
			return showProducts(cmd, opts, a.Inventory, p.ID)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&price, "price", "0", "unit price")
	cmd.Flags().StringVar(&cost, "cost", "0", "unit cost")
	cmd.Flags().StringVar(&discount, "discount", "", "discount percent (0..100)")
	cmd.Flags().IntVar(&stock, "stock", 0, "units on hand")
	cmd.Flags().IntVar(&minStock, "min-stock", 0, "low-stock threshold")

	return cmd
}

func newProductAdjustCommand(opts *RootOptions) *cobra.Command {
	var price, cost string

	cmd := &cobra.Command{
		Use:   "adjust <id>",
		Short: "Change price and/or cost of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var newPrice, newCost *decimal.Decimal
			if cmd.Flags().Changed("price") {
				d, err := validation.ParseAmount("price", price)
				if err != nil {
					return WrapExitError(ExitFailure, "invalid price", err)
				}
				newPrice = &d
			}
			if cmd.Flags().Changed("cost") {
				d, err := validation.ParseAmount("cost", cost)
				if err != nil {
					return WrapExitError(ExitFailure, "invalid cost", err)
				}
				newCost = &d
			}
			if newPrice == nil && newCost == nil {
				return NewExitError(ExitCommandError, "nothing to adjust: pass --price and/or --cost")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Inventory.AdjustPriceOrCost(cmd.Context(), args[0], newPrice, newCost); err != nil {
				return WrapExitError(ExitFailure, "adjust product", err)
			}
			return showProducts(cmd, opts, a.Inventory, args[0])
		},
	}

	cmd.Flags().StringVar(&price, "price", "", "new unit price")
	cmd.Flags().StringVar(&cost, "cost", "", "new unit cost")

	return cmd
}

func newProductStockCommand(opts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "stock <id> <quantity>",
		Short: "Overwrite the units on hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("quantity must be a non-negative integer, got %q", args[1]))
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Inventory.SetStock(cmd.Context(), args[0], qty, reason); err != nil {
				return WrapExitError(ExitFailure, "set stock", err)
			}
			return showProducts(cmd, opts, a.Inventory, args[0])
		},
	}

	cmd.Flags().StringVar(&reason, "reason", stockAdjustmentReason, "reason recorded on the stock movement")

	return cmd
}

func newProductShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>...",
		Short: "Print products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return showProducts(cmd, opts, a.Inventory, args...)
		},
	}
}

func showProducts(cmd *cobra.Command, opts *RootOptions, inventory port.InventoryLedger, ids ...string) error {
	products, err := inventory.Products(cmd.Context(), ids)
	if err != nil {
		return WrapExitError(ExitCommandError, "read products", err)
	}
	views := make([]ProductView, 0, len(ids))
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return NewExitError(ExitFailure, fmt.Sprintf("product %s not found", id))
		}
		views = append(views, newProductView(p))
	}
	return emit(cmd.OutOrStdout(), opts.Format, views, func(w io.Writer) {
		for _, v := range views {
			low := ""
			if v.LowStock {
				low = "  LOW STOCK"
			}
			fmt.Fprintf(w, "%-16s %-24s price %s (sale %s) cost %s stock %d v%d%s\n",
				v.ID, v.Name, v.Price, v.SalePrice, v.Cost, v.Stock, v.Version, low)
		}
	})
}
