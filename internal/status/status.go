package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Step describes the state of one pipeline step for a session. It is what
// the progress endpoint serves while a paper works through extraction.
type Step struct {
	State    string                 `json:"state"`
	Index    int                    `json:"index"`
	Message  string                 `json:"message"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Store persists per-session step state.
type Store interface {
	Set(ctx context.Context, sessionID string, st Step) error
	Get(ctx context.Context, sessionID string) (Step, bool, error)
}

type RedisStore struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: c, keyNS: "session"}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:%s:step", s.keyNS, sessionID)
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, st Step) error {
	m := map[string]interface{}{
		"state":   st.State,
		"index":   st.Index,
		"message": st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	return s.client.HSet(ctx, s.key(sessionID), m).Err()
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Step, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return Step{}, false, err
	}
	if len(res) == 0 {
		return Step{}, false, nil
	}
	st := Step{}
	st.State = res["state"]
	st.Message = res["message"]
	if v, ok := res["index"]; ok && v != "" {
		var i int
		fmt.Sscan(v, &i)
		st.Index = i
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Client returns the underlying redis client so the lock can share the
// connection.
func (s *RedisStore) Client() *redis.Client { return s.client }
