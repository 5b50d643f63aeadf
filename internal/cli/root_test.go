package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "posd", cmd.Use)
	assert.Contains(t, cmd.Long, "atomic")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"},
		{"checkout"},
		{"product", "set"},
		{"product", "adjust"},
		{"product", "stock"},
		{"product", "show"},
		{"customer", "add"},
		{"customer", "credit"},
		{"customer", "phone"},
		{"customer", "show"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, tempDSN(t), "--format", "yaml", "product", "show", "P")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	wrapped := WrapExitError(ExitFailure, "checkout", domain.EmptyCart())
	assert.True(t, errors.Is(wrapped, domain.ErrEmptyCart))
	assert.Equal(t, "checkout: EMPTY_CART: cart has no lines", wrapped.Error())
}

func tempDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pos.db")
}

// execute runs the CLI against a SQLite file and returns stdout.
func execute(t *testing.T, dsn string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--driver", "sqlite3", "--dsn", dsn, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, dsn string, args ...string) string {
	t.Helper()
	out, err := execute(t, dsn, args...)
	require.NoError(t, err, "posd %v", args)
	return out
}

func TestCheckoutCommand(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "product", "set", "P", "--name", "Widget", "--price", "10.00", "--stock", "5")

	out := mustExecute(t, dsn, "checkout", "--item", "P:3", "--discount", "5.00", "--tax-rate", "0.10", "--actor", "alice")
	assert.Contains(t, out, "Invoice   INV-00001")
	assert.Contains(t, out, "Subtotal  30.00")
	assert.Contains(t, out, "Discount  5.00")
	assert.Contains(t, out, "Tax       2.50")
	assert.Contains(t, out, "Total     27.50")

	out = mustExecute(t, dsn, "--format", "json", "product", "show", "P")
	var products []ProductView
	require.NoError(t, json.Unmarshal([]byte(out), &products))
	require.Len(t, products, 1)
	assert.Equal(t, 2, products[0].Stock)
}

func TestCheckoutCommand_JSON(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "product", "set", "P", "--price", "4.00", "--stock", "2")

	out := mustExecute(t, dsn, "--format", "json", "checkout", "-i", "P", "-i", "P")

	var resp struct {
		Success     bool `json:"success"`
		Transaction struct {
			Total string `json:"total"`
			Lines []struct {
				ProductID string `json:"product_id"`
				Quantity  int    `json:"quantity"`
			} `json:"lines"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "8.00", resp.Transaction.Total)
	require.Len(t, resp.Transaction.Lines, 1)
	assert.Equal(t, 2, resp.Transaction.Lines[0].Quantity)
}

func TestCheckoutCommand_InsufficientStock(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "product", "set", "P", "--price", "10.00", "--stock", "1")

	out, err := execute(t, dsn, "checkout", "--item", "P:2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAILED INSUFFICIENT_STOCK")

	out = mustExecute(t, dsn, "--format", "json", "product", "show", "P")
	var products []ProductView
	require.NoError(t, json.Unmarshal([]byte(out), &products))
	assert.Equal(t, 1, products[0].Stock)
}

func TestCheckoutCommand_BadItem(t *testing.T) {
	_, err := execute(t, tempDSN(t), "checkout", "--item", "P:zero")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCustomerCreditSale(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "product", "set", "P", "--price", "10.00", "--stock", "5")
	mustExecute(t, dsn, "customer", "add", "C1", "--name", "Ana", "--phone", "555-0100", "--balance", "50")

	mustExecute(t, dsn, "checkout", "--item", "P:2", "--payment", "credit", "--customer", "C1")

	out := mustExecute(t, dsn, "--format", "json", "customer", "show", "C1")
	var c CustomerView
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, "30.00", c.Balance)
	assert.Equal(t, "5550100", c.Phone)

	out = mustExecute(t, dsn, "--format", "json", "customer", "credit", "C1", "5.25")
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, "35.25", c.Balance)

	mustExecute(t, dsn, "product", "set", "TV", "--price", "40.00", "--stock", "1")
	out, err := execute(t, dsn, "checkout", "--item", "TV", "--payment", "credit", "--customer", "C1")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED INSUFFICIENT_CREDIT")
}

func TestCustomerDuplicatePhone(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "customer", "add", "C1", "--phone", "555 0100")

	_, err := execute(t, dsn, "customer", "add", "C2", "--phone", "555-0100")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicatePhone))

	mustExecute(t, dsn, "customer", "add", "C2", "--phone", "555-0200")
	_, err = execute(t, dsn, "customer", "phone", "C2", "5550100")
	assert.True(t, errors.Is(err, domain.ErrDuplicatePhone))
}

func TestProductAdjustAndStock(t *testing.T) {
	dsn := tempDSN(t)
	mustExecute(t, dsn, "product", "set", "P", "--price", "10.00", "--cost", "6.00", "--stock", "5", "--min-stock", "3", "--discount", "10")

	_, err := execute(t, dsn, "product", "adjust", "P")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out := mustExecute(t, dsn, "--format", "json", "product", "adjust", "P", "--price", "12.00")
	var products []ProductView
	require.NoError(t, json.Unmarshal([]byte(out), &products))
	assert.Equal(t, "12.00", products[0].Price)
	assert.Equal(t, "10.80", products[0].SalePrice)
	assert.Equal(t, "6.00", products[0].Cost)

	out = mustExecute(t, dsn, "--format", "json", "product", "stock", "P", "2")
	require.NoError(t, json.Unmarshal([]byte(out), &products))
	assert.Equal(t, 2, products[0].Stock)
	assert.True(t, products[0].LowStock)

	_, err = execute(t, dsn, "product", "stock", "P", "-1")
	require.Error(t, err)
}

func TestProductSetRejectsDiscountAbove100(t *testing.T) {
	_, err := execute(t, tempDSN(t), "product", "set", "P", "--discount", "120")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
