package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/stepflow/pkg/api"
)

// RedisRunStore is a RunStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>             => gob-encoded redisRunPayload
//	<prefix>idx:all              => SET of all run IDs
//	<prefix>idx:flow:<flow>      => SET of run IDs for a given flow
//	<prefix>idx:status:<status>  => SET of run IDs for a given status
//
// The indexes are always updated on Save/Update, and ListRuns uses set
// operations for filtering.
type RedisRunStore struct {
	client *redis.Client
	prefix string
}

var _ RunStore = (*RedisRunStore)(nil)

type redisRunPayload struct {
	ID          string
	Flow        string
	Status      string
	CurrentStep string
	Artifacts   []byte
	Cards       []byte
	Error       string
}

// NewRedisRunStore creates a RedisRunStore.
// prefix is optional but recommended (e.g. "stepflow:").
func NewRedisRunStore(client *redis.Client, prefix string) *RedisRunStore {
	if prefix == "" {
		prefix = "stepflow:"
	}
	return &RedisRunStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisRunStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisRunStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisRunStore) keyFlow(name api.Name) string {
	return s.prefix + "idx:flow:" + string(name)
}

func (s *RedisRunStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisRun(run *api.Run) ([]byte, error) {
	artifacts, cards, errStr, err := encodeRunColumns(run)
	if err != nil {
		return nil, err
	}

	payload := redisRunPayload{
		ID:          run.ID,
		Flow:        string(run.FlowName),
		Status:      string(run.Status),
		CurrentStep: string(run.CurrentStep),
		Artifacts:   artifacts,
		Cards:       cards,
		Error:       errStr,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisRun(data []byte) (*api.Run, error) {
	if len(data) == 0 {
		return nil, ErrRunNotFound
	}
	var payload redisRunPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	run := &api.Run{
		ID:          payload.ID,
		FlowName:    api.Name(payload.Flow),
		Status:      api.Status(payload.Status),
		CurrentStep: api.Name(payload.CurrentStep),
	}

	artifacts, err := DecodeArtifacts(payload.Artifacts)
	if err != nil {
		return nil, err
	}
	run.Artifacts = artifacts

	cards, err := DecodeCards(payload.Cards)
	if err != nil {
		return nil, err
	}
	run.Cards = cards

	if payload.Error != "" {
		run.Err = errors.New(payload.Error)
	}

	return run, nil
}

func (s *RedisRunStore) write(ctx context.Context, run *api.Run, prevStatus api.Status) error {
	data, err := encodeRedisRun(run)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyRun(run.ID), data, 0)
	pipe.SAdd(ctx, s.keyAll(), run.ID)
	pipe.SAdd(ctx, s.keyFlow(run.FlowName), run.ID)
	if prevStatus != "" && prevStatus != run.Status {
		pipe.SRem(ctx, s.keyStatus(prevStatus), run.ID)
	}
	pipe.SAdd(ctx, s.keyStatus(run.Status), run.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisRunStore) SaveRun(run *api.Run) error {
	return s.write(context.Background(), run, "")
}

func (s *RedisRunStore) UpdateRun(run *api.Run) error {
	ctx := context.Background()

	prev, err := s.GetRun(run.ID)
	if err != nil {
		return err
	}

	return s.write(ctx, run, prev.Status)
}

func (s *RedisRunStore) GetRun(id string) (*api.Run, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	return decodeRedisRun(data)
}

func (s *RedisRunStore) ListRuns(filter RunFilter) ([]*api.Run, error) {
	ctx := context.Background()

	var keys []string
	switch {
	case filter.FlowName != "" && filter.Status != "":
		keys = []string{s.keyFlow(filter.FlowName), s.keyStatus(filter.Status)}
	case filter.FlowName != "":
		keys = []string{s.keyFlow(filter.FlowName)}
	case filter.Status != "":
		keys = []string{s.keyStatus(filter.Status)}
	default:
		keys = []string{s.keyAll()}
	}

	var (
		ids []string
		err error
	)
	if len(keys) == 1 {
		ids, err = s.client.SMembers(ctx, keys[0]).Result()
	} else {
		ids, err = s.client.SInter(ctx, keys...).Result()
	}
	if err != nil {
		return nil, err
	}

	runs := make([]*api.Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				// Index entry outlived the run key; skip it.
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, nil
}
