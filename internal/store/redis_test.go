package store

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisKeys(t *testing.T) {
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer s.Close()

	if got := s.roomsKey(); got != "coderoom:rooms" {
		t.Errorf("roomsKey() = %q", got)
	}
	if got := s.roomKey("abc"); got != "coderoom:room:abc" {
		t.Errorf("roomKey() = %q", got)
	}
	if got := s.chatKey("abc"); got != "coderoom:chat:abc" {
		t.Errorf("chatKey() = %q", got)
	}

	// No room's hash may share a key with another room's transcript
	if s.roomKey("abc:chat") == s.chatKey("abc") || s.chatKey("room:abc") == s.roomKey("abc") {
		t.Error("room and chat keys overlap")
	}
}

func TestRedisStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestRedisStoreLive runs the same suite against a real server.
func TestRedisStoreLive(t *testing.T) {
	url := os.Getenv("CODEROOM_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CODEROOM_TEST_REDIS_URL not set")
	}

	runStoreTests(t, func(t *testing.T) Store {
		// A unique prefix per subtest keeps runs independent
		prefix := "coderoom-test-" + uuid.NewString() + ":"
		s, err := NewRedisStore(context.Background(), url, prefix)
		if err != nil {
			t.Fatalf("Failed to connect to redis: %v", err)
		}
		t.Cleanup(func() {
			ctx := context.Background()
			if keys, err := s.client.Keys(ctx, prefix+"*").Result(); err == nil && len(keys) > 0 {
				s.client.Del(ctx, keys...)
			}
			s.Close()
		})
		return s
	})
}
