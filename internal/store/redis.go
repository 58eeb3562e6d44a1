package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

const defaultRedisPrefix = "coderoom:"

// RedisStore keeps room content in Redis so it can outlive the process or be
// inspected by other tools. Each room is a hash plus a list of chat entries.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	return newRedisStore(client, prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// roomsKey returns the key of the set holding every room id.
func (s *RedisStore) roomsKey() string {
	return s.prefix + "rooms"
}

// roomKey returns the key of a room's metadata hash. Room ids are arbitrary,
// so each key kind gets its own namespace and the id is always the suffix.
func (s *RedisStore) roomKey(id string) string {
	return s.prefix + "room:" + id
}

// chatKey returns the key of a room's transcript list.
func (s *RedisStore) chatKey(id string) string {
	return s.prefix + "chat:" + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*room.Room, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	r := &room.Room{ID: id, Buffer: fields["buffer"]}
	r.CreatedAt = parseNanos(fields["created_at"])
	r.LastActive = parseNanos(fields["last_active"])

	raw, err := s.client.LRange(ctx, s.chatKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	r.Transcript = make([]room.ChatEntry, 0, len(raw))
	for _, data := range raw {
		var e room.ChatEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode chat entry in room %q: %w", id, err)
		}
		r.Transcript = append(r.Transcript, e)
	}
	return r, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, at time.Time) (*room.Room, error) {
	stamp := strconv.FormatInt(at.UnixNano(), 10)
	key := s.roomKey(id)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "buffer", "")
		pipe.HSetNX(ctx, key, "created_at", stamp)
		pipe.HSetNX(ctx, key, "last_active", stamp)
		pipe.SAdd(ctx, s.roomsKey(), id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) SetBuffer(ctx context.Context, id, buffer string, at time.Time) error {
	if err := s.requireRoom(ctx, id); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.roomKey(id),
		"buffer", buffer,
		"last_active", strconv.FormatInt(at.UnixNano(), 10),
	).Err()
}

func (s *RedisStore) AppendChat(ctx context.Context, id string, entry room.ChatEntry) error {
	if err := s.requireRoom(ctx, id); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.chatKey(id), string(data))
		pipe.HSet(ctx, s.roomKey(id), "last_active", strconv.FormatInt(entry.SentAt.UnixNano(), 10))
		return nil
	})
	return err
}

func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	n, err := s.client.Exists(ctx, s.roomKey(id)).Result()
	if err != nil || n == 0 {
		return err
	}
	return s.client.HSet(ctx, s.roomKey(id), "last_active", strconv.FormatInt(at.UnixNano(), 10)).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]room.Summary, error) {
	ids, err := s.client.SMembers(ctx, s.roomsKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	summaries := make([]room.Summary, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.roomKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		count, err := s.client.LLen(ctx, s.chatKey(id)).Result()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, room.Summary{
			ID:           id,
			BufferBytes:  len(fields["buffer"]),
			MessageCount: int(count),
			CreatedAt:    parseNanos(fields["created_at"]),
			LastActive:   parseNanos(fields["last_active"]),
		})
	}
	return summaries, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.roomKey(id), s.chatKey(id))
		pipe.SRem(ctx, s.roomsKey(), id)
		return nil
	})
	return err
}

func (s *RedisStore) requireRoom(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.roomKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("room %q not found", id)
	}
	return nil
}

func parseNanos(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}
