package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrFlowNotFound = errors.New("login flow not found")

// FlowStore persists flows between requests.
type FlowStore interface {
	Load(ctx context.Context, id string) (*Flow, error)
	Save(ctx context.Context, flow *Flow) error
	Delete(ctx context.Context, id string) error
}

type flowRecord struct {
	ID            string    `json:"id"`
	Step          StepKind  `json:"step"`
	Email         string    `json:"email"`
	Code          string    `json:"code,omitempty"`
	DisplayedCode string    `json:"displayed_code,omitempty"`
	Loading       bool      `json:"loading"`
	LoadingSince  time.Time `json:"loading_since"`
	Notice        *Notice   `json:"notice,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func encodeFlow(f *Flow) ([]byte, error) {
	rec := flowRecord{
		ID:           f.ID,
		Step:         f.Step.Kind(),
		Email:        f.Step.email(),
		Loading:      f.Loading,
		LoadingSince: f.LoadingSince,
		Notice:       f.Notice,
		UpdatedAt:    f.UpdatedAt,
	}
	if step, ok := f.Step.(OTPStep); ok {
		rec.Code = step.Code
		rec.DisplayedCode = step.DisplayedCode
	}
	return json.Marshal(rec)
}

func decodeFlow(data []byte) (*Flow, error) {
	var rec flowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	f := &Flow{
		ID:           rec.ID,
		Loading:      rec.Loading,
		LoadingSince: rec.LoadingSince,
		Notice:       rec.Notice,
		UpdatedAt:    rec.UpdatedAt,
	}
	switch rec.Step {
	case StepEmail:
		f.Step = EmailStep{Email: rec.Email}
	case StepOTP:
		f.Step = OTPStep{Email: rec.Email, Code: rec.Code, DisplayedCode: rec.DisplayedCode}
	default:
		return nil, fmt.Errorf("unknown step %q", rec.Step)
	}
	return f, nil
}

// RedisFlowStore keeps each flow as JSON under login_flow:<id>; idle flows
// expire after ttl.
type RedisFlowStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisFlowStore(client *redis.Client, ttl time.Duration) *RedisFlowStore {
	return &RedisFlowStore{client: client, ttl: ttl}
}

func flowKey(id string) string {
	return fmt.Sprintf("login_flow:%s", id)
}

func (s *RedisFlowStore) Load(ctx context.Context, id string) (*Flow, error) {
	data, err := s.client.Get(ctx, flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load login flow: %w", err)
	}

	flow, err := decodeFlow(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode login flow: %w", err)
	}
	return flow, nil
}

func (s *RedisFlowStore) Save(ctx context.Context, flow *Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return fmt.Errorf("failed to encode login flow: %w", err)
	}
	if err := s.client.Set(ctx, flowKey(flow.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save login flow: %w", err)
	}
	return nil
}

func (s *RedisFlowStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, flowKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete login flow: %w", err)
	}
	return nil
}
