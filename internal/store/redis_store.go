package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each channel keeps a current-state
// entry plus an append-only history list; the driver position is also
// GEOADDed so the platform can run nearby queries against one key.
type RedisStore struct {
	client *redis.Client
	geoKey string
}

const writeTimeout = 2 * time.Second

func NewRedisStore(addr, password string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, geoKey: "drivers_geo"}
}

func (r *RedisStore) WriteDriver(ctx context.Context, rec DriverRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: rec.Lon, Latitude: rec.Lat, Name: rec.DriverID}).Result(); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"lat":       rec.Lat,
		"lon":       rec.Lon,
		"online":    rec.Online,
		"tracking":  rec.Tracking,
		"status":    rec.Status,
		"timestamp": rec.Timestamp,
	}
	if rec.Name != "" {
		fields["name"] = rec.Name
	}
	if rec.Accuracy > 0 {
		fields["accuracy"] = rec.Accuracy
	}
	if len(rec.ActiveOrderIDs) > 0 {
		fields["activeOrderIds"] = strings.Join(rec.ActiveOrderIDs, ",")
	}
	if err := r.client.HSet(ctx, driverKey(rec.DriverID), fields).Err(); err != nil {
		return err
	}
	return r.appendHistory(ctx, driverKey(rec.DriverID)+"/history", rec)
}

func (r *RedisStore) WriteOrder(ctx context.Context, rec OrderRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, orderKey(rec.OrderID), b, 0).Err(); err != nil {
		return err
	}
	return r.appendHistory(ctx, orderKey(rec.OrderID)+"/history", rec)
}

func (r *RedisStore) appendHistory(ctx context.Context, key string, rec any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, key, b).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func driverKey(id string) string { return "driverTelemetry/" + id }
func orderKey(id string) string  { return "orderTracking/" + id }
