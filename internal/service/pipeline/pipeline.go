package pipeline

import (
	"context"
	"fmt"
	"shieldchat/internal/config"
	"shieldchat/internal/metrics"
	messageRepo "shieldchat/internal/repository/message"
	"shieldchat/internal/service/contentstore"
	"shieldchat/internal/service/ledger"
	"shieldchat/internal/service/pushfeed"
	"shieldchat/internal/service/reconciler"
	redisSvc "shieldchat/internal/service/redis"
	"shieldchat/internal/service/session"
	"shieldchat/internal/utils/log"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

type (
	// Pipeline is every service handle one channel subscription needs,
	// built from config and closed together.
	Pipeline struct {
		Cache      reconciler.Cache
		Store      *contentstore.Client
		Source     *ledger.Source
		Feed       *pushfeed.Feed
		Reconciler *reconciler.Reconciler
		Session    *session.Session
		ProgramID  solana.PublicKey

		closers []func()
	}
)

// Build wires the pipeline. An unreachable cache or Redis degrades to
// running without it; only invalid configuration is an error.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Pipeline, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.Ledger.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	p := &Pipeline{ProgramID: programID}

	var redisService *redisSvc.RedisService
	if cfg.Redis.Addr != "" {
		redisService = p.initRedis(ctx, cfg.Redis)
	}

	blobs, err := contentstore.NewBlobCache(cfg.ContentStore.LRUSize, redisService, cfg.ContentStore.RedisTTL())
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Store = contentstore.NewClient(contentstore.Options{
		PinataURL: cfg.ContentStore.PinataURL,
		PinataJWT: cfg.ContentStore.PinataJWT,
		Gateways:  cfg.ContentStore.Gateways,
		Timeout:   cfg.ContentStore.Timeout(),
	}, blobs, m)

	p.Cache = p.initCache(ctx, cfg, redisService)

	p.Source = ledger.NewSource(
		ledger.NewSolanaRPC(cfg.Ledger.RPCURL, cfg.Ledger.Commitment),
		programID, cfg.Ledger.SignatureLimit, cfg.Ledger.BatchSize, m)

	p.Reconciler = reconciler.New(reconciler.Options{
		Cache:           p.Cache,
		Store:           p.Store,
		Ledger:          p.Source,
		Metrics:         m,
		PollInterval:    cfg.PollInterval(),
		BatchSize:       cfg.Ledger.BatchSize,
		BackfillTimeout: cfg.BackfillTimeout(),
	})

	if cfg.Push.Enabled {
		p.Feed = pushfeed.New(pushfeed.Options{
			URL:           cfg.Push.WSURL,
			ProgramID:     programID,
			PingInterval:  cfg.Push.PingInterval(),
			MaxReconnects: cfg.Push.MaxReconnects,
			BackoffBase:   cfg.Push.BackoffBase(),
			BackoffMax:    cfg.Push.BackoffMax(),
		}, m)
	}
	p.Session = session.New(p.Reconciler, p.Feed)
	return p, nil
}

func (p *Pipeline) initRedis(ctx context.Context, cfg config.RedisConfig) *redisSvc.RedisService {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	svc := redisSvc.NewRedis(rdb)
	p.closers = append(p.closers, func() { _ = svc.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := svc.Ping(pingCtx); err != nil {
		log.Warn("redis unreachable, continuing; operations will retry per call",
			zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return svc
}

func (p *Pipeline) initCache(ctx context.Context, cfg *config.Config, redisService *redisSvc.RedisService) reconciler.Cache {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		if redisService == nil {
			log.Warn("redis cache backend selected without redis, caching disabled")
			return messageRepo.NopRepo{}
		}
		return messageRepo.NewRedisRepo(redisService)

	case config.CacheMongo:
		if cfg.Cache.MongoURI == "" {
			return messageRepo.NopRepo{}
		}
		client, err := initMongo(ctx, cfg.Cache.MongoURI)
		if err != nil {
			log.Warn("mongo unreachable, caching disabled", zap.Error(err))
			return messageRepo.NopRepo{}
		}
		p.closers = append(p.closers, func() {
			dctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			_ = client.Disconnect(dctx)
		})

		repo := messageRepo.NewMessageRepo(client.Database(cfg.Cache.Database), cfg.Cache.Collection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Warn("ensure cache indexes failed", zap.Error(err))
		}
		return repo

	default:
		return messageRepo.NopRepo{}
	}
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Close stops the session and releases every connection, newest first.
func (p *Pipeline) Close() {
	if p.Session != nil {
		p.Session.Close()
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}
