package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-checkout/internal/core/domain"
)

const (
	productKeyPrefix  = "product:"
	requestKeyPrefix  = "checkout:request:"
	idempotencyKeyTTL = 24 * time.Hour
)

// reserveStockScript returns {1, version} on success, {0, stock} when stock
// is short and {-1, 0} for an unknown product.
var reserveStockScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

local current = redis.call('HGET', key, 'stock')
if not current then
	return {-1, 0}
end

current = tonumber(current)
if current < quantity then
	return {0, current}
end

redis.call('HINCRBY', key, 'stock', -quantity)
local version = redis.call('HINCRBY', key, 'version', 1)
return {1, version}
`)

var releaseStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return 0
end
redis.call('HINCRBY', key, 'stock', tonumber(ARGV[1]))
redis.call('HINCRBY', key, 'version', 1)
return 1
`)

var setStockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return 0
end
redis.call('HSET', key, 'stock', ARGV[1], 'updated_at', ARGV[2])
redis.call('HINCRBY', key, 'version', 1)
return 1
`)

var adjustPriceScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return 0
end
if ARGV[1] ~= '' then
	redis.call('HSET', key, 'price_minor', ARGV[1])
end
if ARGV[2] ~= '' then
	redis.call('HSET', key, 'cost_minor', ARGV[2])
end
redis.call('HSET', key, 'updated_at', ARGV[3])
return 1
`)

// RedisAdapter is an inventory ledger over one Redis hash per product.
// Every stock mutation is a Lua script, so it is atomic per product.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func productKey(id string) string {
	return productKeyPrefix + id
}

func (r *RedisAdapter) Reserve(ctx context.Context, productID string, quantity int) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.InvalidInput("reserve quantity must be > 0, got %d", quantity)
	}

	result, err := reserveStockScript.Run(ctx, r.client, []string{productKey(productID)}, quantity).Int64Slice()
	if err != nil {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("reserve script: %w", err))
	}
	if len(result) != 2 {
		return nil, domain.StockError(productID, quantity, -1, fmt.Errorf("reserve script: unexpected reply %v", result))
	}

	switch result[0] {
	case 1:
		return domain.NewReservation(uuid.NewString(), productID, quantity, result[1]), nil
	case 0:
		return nil, domain.StockError(productID, quantity, int(result[1]), nil)
	default:
		return nil, domain.StockError(productID, quantity, -1, domain.ErrProductNotFound)
	}
}

func (r *RedisAdapter) Commit(_ context.Context, res *domain.Reservation) error {
	return res.Settle(domain.ReservationCommitted)
}

func (r *RedisAdapter) Release(ctx context.Context, res *domain.Reservation) error {
	if err := res.Settle(domain.ReservationReleased); err != nil {
		return err
	}
	ok, err := releaseStockScript.Run(ctx, r.client, []string{productKey(res.ProductID)}, res.Quantity).Int()
	if err != nil {
		res.Unsettle()
		return fmt.Errorf("release %s: %w", res.ProductID, err)
	}
	if ok != 1 {
		res.Unsettle()
		return fmt.Errorf("release %s: %w", res.ProductID, domain.ErrProductNotFound)
	}
	return nil
}

func (r *RedisAdapter) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, productKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load products: %w", err)
	}

	out := make(map[string]domain.Product, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		p, err := decodeProduct(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, nil
}

func decodeProduct(id string, f map[string]string) (domain.Product, error) {
	var ints [6]int64
	for i, field := range []string{"price_minor", "cost_minor", "discount_bp", "stock", "min_stock", "version"} {
		raw, ok := f[field]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.Product{}, fmt.Errorf("product %s field %s: %w", id, field, err)
		}
		ints[i] = v
	}

	p := domain.Product{
		ID:              id,
		Name:            f["name"],
		Price:           domain.FromMinorUnits(ints[0]),
		Cost:            domain.FromMinorUnits(ints[1]),
		DiscountPercent: decimal.New(ints[2], -2),
		Stock:           int(ints[3]),
		MinStock:        int(ints[4]),
		Version:         ints[5],
	}
	if ts, err := time.Parse(time.RFC3339Nano, f["updated_at"]); err == nil {
		p.UpdatedAt = ts
	}
	return p, nil
}

func (r *RedisAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	if p.Stock < 0 || p.Price.IsNegative() || p.Cost.IsNegative() {
		return domain.InvalidInput("product %s: stock, price and cost must be >= 0", p.ID)
	}
	key := productKey(p.ID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"name", p.Name,
			"price_minor", domain.ToMinorUnits(p.Price),
			"cost_minor", domain.ToMinorUnits(p.Cost),
			"discount_bp", p.DiscountPercent.Shift(2).IntPart(),
			"stock", p.Stock,
			"min_stock", p.MinStock,
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.HIncrBy(ctx, key, "version", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *RedisAdapter) SetStock(ctx context.Context, productID string, quantity int, _ string) error {
	if quantity < 0 {
		return domain.InvalidInput("stock must be >= 0, got %d", quantity)
	}
	ok, err := setStockScript.Run(ctx, r.client, []string{productKey(productID)},
		quantity, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("set stock %s: %w", productID, err)
	}
	if ok != 1 {
		return fmt.Errorf("set stock %s: %w", productID, domain.ErrProductNotFound)
	}
	return nil
}

func (r *RedisAdapter) AdjustPriceOrCost(ctx context.Context, productID string, price, cost *decimal.Decimal) error {
	if (price != nil && price.IsNegative()) || (cost != nil && cost.IsNegative()) {
		return domain.InvalidInput("price and cost must be >= 0")
	}
	var priceArg, costArg string
	if price != nil {
		priceArg = strconv.FormatInt(domain.ToMinorUnits(*price), 10)
	}
	if cost != nil {
		costArg = strconv.FormatInt(domain.ToMinorUnits(*cost), 10)
	}
	ok, err := adjustPriceScript.Run(ctx, r.client, []string{productKey(productID)},
		priceArg, costArg, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("adjust %s: %w", productID, err)
	}
	if ok != 1 {
		return fmt.Errorf("adjust %s: %w", productID, domain.ErrProductNotFound)
	}
	return nil
}

// RedisRequestGuard claims checkout request IDs with SETNX.
type RedisRequestGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRequestGuard(client *redis.Client) *RedisRequestGuard {
	return &RedisRequestGuard{client: client, ttl: idempotencyKeyTTL}
}

func (g *RedisRequestGuard) Claim(ctx context.Context, requestID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, requestKeyPrefix+requestID, 1, g.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (g *RedisRequestGuard) Forget(ctx context.Context, requestID string) error {
	return g.client.Del(ctx, requestKeyPrefix+requestID).Err()
}
