package message

import (
	"context"
	"encoding/json"
	"fmt"
	"shieldchat/internal/model"
	"shieldchat/internal/service/redis"
	"sort"
)

type (
	// RedisRepo keeps one hash per channel, field = record id.
	RedisRepo struct {
		redisService *redis.RedisService
	}
)

func NewRedisRepo(redisSvc *redis.RedisService) *RedisRepo {
	return &RedisRepo{
		redisService: redisSvc,
	}
}

func channelKey(channel string) string {
	return fmt.Sprintf("messages: %s", channel)
}

func (r *RedisRepo) ReadAll(ctx context.Context, channel string) ([]*model.CachedRecord, error) {
	vals, err := r.redisService.HGetAll(ctx, channelKey(channel))
	if err != nil {
		return nil, err
	}

	res := make([]*model.CachedRecord, 0, len(vals))
	for _, v := range vals {
		var rec model.CachedRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, err
		}
		res = append(res, &rec)
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res, nil
}

func (r *RedisRepo) WriteOne(ctx context.Context, record *model.CachedRecord) error {
	return r.WriteMany(ctx, []*model.CachedRecord{record})
}

func (r *RedisRepo) WriteMany(ctx context.Context, records []*model.CachedRecord) error {
	byChannel := make(map[string][]any)
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec.ID, data)
	}

	for channel, vals := range byChannel {
		if err := r.redisService.HSet(ctx, channelKey(channel), vals...); err != nil {
			return err
		}
	}
	return nil
}
