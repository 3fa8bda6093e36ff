package message

import (
	"context"
	"shieldchat/internal/model"
	redisSvc "shieldchat/internal/service/redis"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRepo(t *testing.T) *RedisRepo {
	mr := miniredis.RunT(t)
	return NewRedisRepo(redisSvc.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
}

func TestRedisRepoRoundTripSorted(t *testing.T) {
	repo := newRedisRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.WriteMany(ctx, []*model.CachedRecord{
		{ID: "b:2", Channel: "chan", Timestamp: base.Add(2 * time.Second), Envelope: &model.EncryptedEnvelope{Version: model.EnvelopeV1}},
		{ID: "a:1", Channel: "chan", Timestamp: base.Add(time.Second)},
		{ID: "x:1", Channel: "other", Timestamp: base},
	}))

	recs, err := repo.ReadAll(ctx, "chan")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a:1", recs[0].ID)
	assert.Equal(t, "b:2", recs[1].ID)
	assert.Equal(t, model.EnvelopeV1, recs[1].Envelope.Version)
}

func TestRedisRepoIdempotentWrites(t *testing.T) {
	repo := newRedisRepo(t)
	ctx := context.Background()
	rec := &model.CachedRecord{ID: "a:1", Channel: "chan"}

	require.NoError(t, repo.WriteOne(ctx, rec))
	require.NoError(t, repo.WriteOne(ctx, rec))
	require.NoError(t, repo.WriteMany(ctx, []*model.CachedRecord{rec}))

	recs, err := repo.ReadAll(ctx, "chan")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestNopRepoAlwaysMisses(t *testing.T) {
	var repo NopRepo
	recs, err := repo.ReadAll(context.Background(), "chan")
	assert.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, repo.WriteOne(context.Background(), &model.CachedRecord{}))
}
