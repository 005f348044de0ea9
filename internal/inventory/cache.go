package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StockReader loads a stock view from the system of record.
type StockReader interface {
	GetStock(ctx context.Context, clinicID, medicineID int64) (StockView, error)
}

// StockCache is a read-through Redis cache for stock views. It never participates
// in settlement decisions; it is dropped whenever a StockChangedEvent is published.
type StockCache struct {
	client *redis.Client
	reader StockReader
	ttl    time.Duration
	group  singleflight.Group
}

// NewStockCache instantiates the cache helper. A nil client reads through directly.
func NewStockCache(client *redis.Client, reader StockReader, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StockCache{client: client, reader: reader, ttl: ttl}
}

// storeIfCurrent writes the view only when no invalidation happened since the read began.
var storeIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// GetStock returns the cached view or populates it from the reader.
func (c *StockCache) GetStock(ctx context.Context, clinicID, medicineID int64) (StockView, error) {
	if c.client == nil {
		return c.reader.GetStock(ctx, clinicID, medicineID)
	}
	key := stockKey(clinicID, medicineID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var view StockView
		if err := json.Unmarshal(payload, &view); err == nil {
			return view, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return c.reader.GetStock(ctx, clinicID, medicineID)
	}

	// Waiters share this load, so it outlives the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		version, err := c.client.Get(loadCtx, versionKey(key)).Result()
		if errors.Is(err, redis.Nil) {
			version = "0"
		} else if err != nil {
			return c.reader.GetStock(loadCtx, clinicID, medicineID)
		}
		view, err := c.reader.GetStock(loadCtx, clinicID, medicineID)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(view)
		if err != nil {
			return nil, err
		}
		_ = storeIfCurrent.Run(loadCtx, c.client, []string{key, versionKey(key)}, version, raw, c.ttl.Milliseconds()).Err()
		return view, nil
	})
	select {
	case <-ctx.Done():
		return StockView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return StockView{}, res.Err
		}
		return res.Val.(StockView), nil
	}
}

// Invalidate drops the cached view of a medicine and bumps its version so that
// loads already in flight do not write the old view back.
func (c *StockCache) Invalidate(ctx context.Context, clinicID, medicineID int64) error {
	if c.client == nil {
		return nil
	}
	key := stockKey(clinicID, medicineID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(key))
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

// PublishStockChanged implements Publisher.
func (c *StockCache) PublishStockChanged(ctx context.Context, evt StockChangedEvent) error {
	return c.Invalidate(ctx, evt.ClinicID, evt.MedicineID)
}

func versionKey(key string) string {
	return key + ":version"
}

func stockKey(clinicID, medicineID int64) string {
	return strings.Join([]string{"medzillo", "stock", strconv.FormatInt(clinicID, 10), strconv.FormatInt(medicineID, 10)}, ":")
}
