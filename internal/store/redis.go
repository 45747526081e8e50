package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/draftforge/api/internal/model"
)

// RedisArtifacts keeps artifacts as JSON documents with a per session+type
// version index, so "latest version" reads are one ZSET lookup.
type RedisArtifacts struct {
	client *redis.Client
}

func NewRedisArtifacts(client *redis.Client) *RedisArtifacts {
	return &RedisArtifacts{client: client}
}

func artifactKey(id string) string { return "artifact:" + id }

func artifactIndexKey(sessionID string, typ model.ArtifactType) string {
	return fmt.Sprintf("artifacts:%s:%s", sessionID, typ)
}

func (s *RedisArtifacts) Get(ctx context.Context, id string) (*model.Artifact, error) {
	raw, err := s.client.Get(ctx, artifactKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var artifact model.Artifact
	if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return &artifact, nil
}

func (s *RedisArtifacts) FindLatestVersion(ctx context.Context, sessionID string, typ model.ArtifactType) (*model.Artifact, error) {
	ids, err := s.client.ZRevRange(ctx, artifactIndexKey(sessionID, typ), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("latest %s for session %s: %w", typ, sessionID, ErrNotFound)
	}
	return s.Get(ctx, ids[0])
}

func (s *RedisArtifacts) Create(ctx context.Context, artifact *model.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	artifact.CreatedAt = now
	artifact.UpdatedAt = now

	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, artifactKey(artifact.ID), raw, 0)
	pipe.ZAdd(ctx, artifactIndexKey(artifact.SessionID, artifact.Type), redis.Z{
		Score:  float64(artifact.Version),
		Member: artifact.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Update replaces the whole document. The single-writer-per-artifact
// invariant makes this safe without a compare-and-set.
func (s *RedisArtifacts) Update(ctx context.Context, artifact *model.Artifact) error {
	artifact.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return s.client.Set(ctx, artifactKey(artifact.ID), raw, 0).Err()
}

// RedisSessions stores workflow sessions as JSON documents.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func sessionKey(id string) string { return "session:" + id }

func (s *RedisSessions) Get(ctx context.Context, id string) (*model.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

func (s *RedisSessions) Create(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	return s.save(ctx, session)
}

func (s *RedisSessions) Update(ctx context.Context, session *model.Session) error {
	session.UpdatedAt = time.Now().UTC()
	return s.save(ctx, session)
}

func (s *RedisSessions) save(ctx context.Context, session *model.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, sessionKey(session.ID), raw, 0).Err()
}
