package message

import (
	"context"
	"shieldchat/internal/model"
)

// NopRepo is the absent cache backend: every read misses, every write succeeds.
type NopRepo struct{}

func (NopRepo) ReadAll(context.Context, string) ([]*model.CachedRecord, error) {
	return nil, nil
}

func (NopRepo) WriteOne(context.Context, *model.CachedRecord) error {
	return nil
}

func (NopRepo) WriteMany(context.Context, []*model.CachedRecord) error {
	return nil
}
