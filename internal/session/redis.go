package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyTpl = "session:%s" // session:${id}

// Manager stores sessions in redis hashes with a TTL. It implements Store.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewManager(redisURL string, ttl time.Duration) (*Manager, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Manager{redis: client, ttl: ttl}, nil
}

func (m *Manager) Close() error {
	if m.redis != nil {
		return m.redis.Close()
	}
	return nil
}

func (m *Manager) Renew(ctx context.Context, oldID string, data Data) (string, error) {
	if oldID != "" {
		if err := m.redis.Del(ctx, fmt.Sprintf(sessionKeyTpl, oldID)).Err(); err != nil {
			return "", fmt.Errorf("failed to invalidate previous session: %w", err)
		}
	}

	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to allocate session id: %w", err)
	}

	fields := map[string]interface{}{
		"user_id":  data.UserID,
		"username": data.Username,
		"email":    data.Email,
		"role":     data.Role,
	}
	if data.StudentID != nil {
		fields["student_id"] = *data.StudentID
	}
	if data.InstructorID != nil {
		fields["instructor_id"] = *data.InstructorID
	}

	key := fmt.Sprintf(sessionKeyTpl, id)
	pipe := m.redis.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	return id, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Data, error) {
	key := fmt.Sprintf(sessionKeyTpl, id)

	values, err := m.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	return sessionFromValues(id, values)
}

// sessionFromValues rebuilds Data from a redis hash. Any numeric field that
// fails to parse makes the whole session malformed; a session with a silently
// dropped linkage id would misrepresent the account.
func sessionFromValues(id string, values map[string]string) (*Data, error) {
	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed session %s: %w", id, err)
	}

	data := &Data{
		UserID:   userID,
		Username: values["username"],
		Email:    values["email"],
		Role:     values["role"],
	}
	if v, ok := values["student_id"]; ok {
		sid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed session %s: %w", id, err)
		}
		data.StudentID = &sid
	}
	if v, ok := values["instructor_id"]; ok {
		iid, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed session %s: %w", id, err)
		}
		data.InstructorID = &iid
	}

	return data, nil
}

func (m *Manager) Destroy(ctx context.Context, id string) error {
	if err := m.redis.Del(ctx, fmt.Sprintf(sessionKeyTpl, id)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}
