package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	cache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/infra/database/models"
)

const settingTTL = 10 * time.Minute

// KV is the read-through layer in front of the settings table. The backend
// is configuration: in-process, redis or memcached.
type KV interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// SettingsRepository persists the simple local state the refresh cycle
// reads at start and writes at end.
type SettingsRepository struct {
	db *gorm.DB
	kv KV
}

func NewSettingsRepository(db *gorm.DB, kv KV) *SettingsRepository {
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &SettingsRepository{db: db, kv: kv}
}

func (r *SettingsRepository) GetStrings(ctx context.Context, key string) ([]string, error) {
	raw, err := r.get(ctx, key)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SettingsRepository) SetStrings(ctx context.Context, key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return r.set(ctx, key, string(raw))
}

func (r *SettingsRepository) GetInt(ctx context.Context, key string) (int, error) {
	raw, err := r.get(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func (r *SettingsRepository) SetInt(ctx context.Context, key string, value int) error {
	return r.set(ctx, key, strconv.Itoa(value))
}

func (r *SettingsRepository) get(ctx context.Context, key string) (string, error) {
	if value, ok := r.kv.Get(ctx, key); ok {
		return value, nil
	}

	var row models.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.NotFoundError{Resource: "setting " + key}
	}
	if err != nil {
		return "", err
	}
	r.kv.Set(ctx, key, row.Value)
	return row.Value, nil
}

func (r *SettingsRepository) set(ctx context.Context, key, value string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{"value": value}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
	if err != nil {
		return err
	}
	r.kv.Set(ctx, key, value)
	return nil
}

// --- KV backends ---

type memoryKV struct {
	c *cache.Cache
}

func NewMemoryKV() KV {
	return &memoryKV{c: cache.New(settingTTL, 15*time.Minute)}
}

func (m *memoryKV) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := m.c.Get(key); ok {
		return value.(string), true
	}
	return "", false
}

func (m *memoryKV) Set(ctx context.Context, key, value string) {
	m.c.Set(key, value, cache.DefaultExpiration)
}

type redisKV struct {
	rdb *redis.Client
}

func NewRedisKV(rdb *redis.Client) KV {
	return &redisKV{rdb: rdb}
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.rdb.Get(ctx, "setting:"+key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

func (r *redisKV) Set(ctx context.Context, key, value string) {
	r.rdb.Set(ctx, "setting:"+key, value, settingTTL)
}

type memcacheKV struct {
	mc *memcache.Client
}

func NewMemcacheKV(mc *memcache.Client) KV {
	return &memcacheKV{mc: mc}
}

func (m *memcacheKV) Get(ctx context.Context, key string) (string, bool) {
	item, err := m.mc.Get("setting:" + key)
	if err != nil {
		return "", false
	}
	return string(item.Value), true
}

func (m *memcacheKV) Set(ctx context.Context, key, value string) {
	m.mc.Set(&memcache.Item{
		Key:        "setting:" + key,
		Value:      []byte(value),
		Expiration: int32(settingTTL / time.Second),
	})
}
