package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/i474232898/weather-polling/internal/weather"
)

const redisLocationsKey = "locations"

// RedisStore keeps the store in Redis. History records expire after
// maxHistory days.
type RedisStore struct {
	client     *redisv9.Client
	maxHistory int

	// serialises read-modify-write of the location list within this process
	listMu sync.Mutex
}

var _ weather.Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr string, maxHistory int) (*RedisStore, error) {
	client := redisv9.NewClient(&redisv9.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, maxHistory: maxHistory}, nil
}

func weatherKey(id string) string {
	return "weather:" + id
}

func historyKey(id, date string) string {
	return "history:" + id + ":" + date
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// historyPattern matches every history key of id.
func historyPattern(id string) string {
	return "history:" + globEscaper.Replace(id) + ":*"
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) ReadLocationList(ctx context.Context) ([]*weather.Location, error) {
	val, err := s.client.Get(ctx, redisLocationsKey).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get locations: %w", err)
	}
	var list []*weather.Location
	if err := json.Unmarshal([]byte(val), &list); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return list, nil
}

func (s *RedisStore) WriteLocationList(ctx context.Context, list []*weather.Location) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.putList(ctx, detachAll(list))
}

func (s *RedisStore) putList(ctx context.Context, list []*weather.Location) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode locations: %w", err)
	}
	if err := s.client.Set(ctx, redisLocationsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("set locations: %w", err)
	}
	return nil
}

func (s *RedisStore) WriteLocation(ctx context.Context, loc *weather.Location) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	list, err := s.ReadLocationList(ctx)
	if err != nil {
		return err
	}
	if i := indexOf(list, loc.FormattedID()); i >= 0 {
		list[i] = detach(loc)
	} else {
		list = append(list, detach(loc))
	}
	return s.putList(ctx, list)
}

func (s *RedisStore) DeleteLocation(ctx context.Context, id string) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	list, err := s.ReadLocationList(ctx)
	if err != nil {
		return err
	}
	i := indexOf(list, id)
	if i < 0 {
		return weather.ErrNotFound
	}
	list = append(list[:i], list[i+1:]...)
	if err := s.putList(ctx, list); err != nil {
		return err
	}
	if err := s.client.Del(ctx, weatherKey(id)).Err(); err != nil {
		return fmt.Errorf("delete weather: %w", err)
	}
	return s.deleteHistory(ctx, id)
}

func (s *RedisStore) deleteHistory(ctx context.Context, id string) error {
	prefix := historyKey(id, "")
	var keys []string
	iter := s.client.Scan(ctx, 0, historyPattern(id), 100).Iterator()
	for iter.Next(ctx) {
		// "history:a:*" also matches the keys of an id like "a:b"
		if key := iter.Val(); !strings.Contains(strings.TrimPrefix(key, prefix), ":") {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan history: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *RedisStore) ReadWeather(ctx context.Context, loc *weather.Location) (*weather.Weather, error) {
	val, err := s.client.Get(ctx, weatherKey(loc.FormattedID())).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, weather.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get weather: %w", err)
	}

	var w weather.Weather
	if err := json.Unmarshal([]byte(val), &w); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}
	if date, ok := yesterdayDate(loc, &w); ok {
		h, err := s.ReadHistory(ctx, loc, date)
		if err == nil {
			w.Yesterday = h
		} else if !errors.Is(err, weather.ErrNotFound) {
			return nil, err
		}
	}
	return &w, nil
}

func (s *RedisStore) WriteWeather(ctx context.Context, loc *weather.Location, w *weather.Weather) error {
	key := loc.FormattedID()
	data, err := json.Marshal(snapshot(w))
	if err != nil {
		return fmt.Errorf("encode weather: %w", err)
	}
	if err := s.client.Set(ctx, weatherKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("set weather: %w", err)
	}

	today := w.TodayHistory(loc)
	prev, err := s.ReadHistory(ctx, loc, today.Date)
	switch {
	case err == nil:
		today = prev.Merge(today)
	case !errors.Is(err, weather.ErrNotFound):
		return err
	}

	hist, err := json.Marshal(today)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	var ttl time.Duration
	if s.maxHistory > 0 {
		ttl = time.Duration(s.maxHistory) * 24 * time.Hour
	}
	if err := s.client.Set(ctx, historyKey(key, today.Date), hist, ttl).Err(); err != nil {
		return fmt.Errorf("set history: %w", err)
	}
	return nil
}

func (s *RedisStore) ReadHistory(ctx context.Context, loc *weather.Location, date string) (*weather.History, error) {
	val, err := s.client.Get(ctx, historyKey(loc.FormattedID(), date)).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, weather.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	var h weather.History
	if err := json.Unmarshal([]byte(val), &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &h, nil
}
