package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/app"
	"github.com/rl1809/pos-checkout/internal/config"
	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/logging"
)

const (
	itemID        = "stress-item"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("POS_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// in-memory unless a backend was chosen explicitly
	if os.Getenv("POS_CONFIG") == "" && os.Getenv("POS_STORAGE_DRIVER") == "" {
		cfg.Storage.Driver = config.StorageMemory
	}
	logger, err := logging.New(cfg.Service, "error", os.Stderr)
	if err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()

	err = a.Inventory.UpsertProduct(ctx, domain.Product{
		ID:    itemID,
		Name:  "Stress item",
		Price: decimal.RequireFromString("9.99"),
		Stock: initialStock,
	})
	if err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var stockFailCount atomic.Int32
	var otherFailCount atomic.Int32

	var wg sync.WaitGroup
	runID := time.Now().UnixNano()
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(terminal int) {
			defer wg.Done()

			_, err := a.Checkout.Checkout(ctx, domain.CheckoutRequest{
				RequestID:     fmt.Sprintf("stress-%d-%d", runID, terminal),
				Lines:         []domain.CartLine{{ProductID: itemID, Quantity: 1}},
				PaymentMethod: domain.PaymentCash,
				Actor:         "stress",
				Terminal:      fmt.Sprintf("till-%d", terminal),
			})
			switch domain.KindOf(err) {
			case "":
				if err == nil {
					successCount.Add(1)
				} else {
					otherFailCount.Add(1)
				}
			case domain.KindAuditWrite:
				successCount.Add(1)
			case domain.KindInsufficientStock:
				stockFailCount.Add(1)
			default:
				otherFailCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := stockFailCount.Load()
	other := otherFailCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Storage:          %s (inventory %s)\n", cfg.Storage.Driver, cfg.Inventory.Backend)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", fail)
	fmt.Printf("Other failures:   %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d checkouts succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d (%d other)\n",
			initialStock, totalRequests-initialStock, success, fail, other)
	}

	products, err := a.Inventory.Products(ctx, []string{itemID})
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	finalStock := products[itemID].Stock
	fmt.Printf("Final Stock:      %d\n", finalStock)

	if finalStock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", finalStock)
	}
}
