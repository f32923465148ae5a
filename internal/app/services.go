package app

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/clock/system"
	"github.com/JakeFAU/reposync/internal/config"
	"github.com/JakeFAU/reposync/internal/github"
	"github.com/JakeFAU/reposync/internal/id/uuid"
	pubmemory "github.com/JakeFAU/reposync/internal/publisher/memory"
	"github.com/JakeFAU/reposync/internal/publisher/pubsub"
	"github.com/JakeFAU/reposync/internal/storage"
	"github.com/JakeFAU/reposync/internal/storage/gcs"
	"github.com/JakeFAU/reposync/internal/storage/local"
	storagememory "github.com/JakeFAU/reposync/internal/storage/memory"
	"github.com/JakeFAU/reposync/internal/storage/postgres"
	"github.com/JakeFAU/reposync/internal/wiki"
)

// Services owns the production dependencies built from configuration.
type Services struct {
	Deps
	closers []func()
	logger  *zap.Logger
}

// NewServices builds every dependency the configuration asks for. It fails
// fast when a configured sink cannot be reached.
func NewServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Services{logger: logger}
	clk := system.New()
	svc.Clock = clk
	svc.IDs = uuid.New()

	client := github.NewClient(github.Config{
		APIURL:              cfg.GitHub.APIURL,
		Token:               cfg.GitHub.Token,
		ElevatedToken:       cfg.GitHub.ElevatedToken,
		APIVersion:          cfg.GitHub.APIVersion,
		UserAgent:           cfg.GitHub.UserAgent,
		Timeout:             cfg.GitHub.Timeout(),
		MaxAttempts:         cfg.GitHub.MaxAttempts,
		ContentsMaxAttempts: cfg.GitHub.ContentsMaxAttempts,
		Backoff:             github.Backoff{Unit: cfg.GitHub.BackoffUnit(), Max: cfg.GitHub.BackoffMax()},
		RequestsPerSecond:   cfg.GitHub.RequestsPerSecond,
		QuotaGovernor:       cfg.GitHub.QuotaGovernor,
		MaxPages:            cfg.GitHub.MaxPages,
		MaxBodyBytes:        cfg.GitHub.MaxBodyBytes,
	}, clk, logger)
	svc.API = client

	var governor wiki.Governor
	if g := client.Governor(); g != nil {
		governor = g
	}
	svc.Wiki = wiki.New(wiki.Config{
		SiteURL:     cfg.GitHub.SiteURL,
		UserAgent:   cfg.GitHub.UserAgent,
		Timeout:     cfg.GitHub.Timeout(),
		MaxAttempts: cfg.GitHub.WikiMaxAttempts,
		Backoff:     github.Backoff{Unit: cfg.GitHub.BackoffUnit(), Max: cfg.GitHub.BackoffMax()},
	}, clk, governor, logger)

	blobs, err := svc.openBlobs(ctx, cfg.Storage)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Blobs = blobs

	if cfg.DB.DSN != "" {
		mirror, err := postgres.NewMirror(ctx, postgres.MirrorConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
		})
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("init mirror: %w", err)
		}
		svc.Mirror = mirror
		svc.closers = append(svc.closers, mirror.Close)
		logger.Info("postgres mirror enabled", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.TopicName == "" {
		svc.Publisher = pubmemory.New()
		logger.Debug("no pubsub topic configured; run summaries kept in memory")
	} else {
		pub, err := pubsub.Dial(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicName: cfg.PubSub.TopicName})
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		svc.Publisher = pub
		svc.closers = append(svc.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close publisher", zap.Error(err))
			}
		})
		logger.Info("run summaries enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	return svc, nil
}

func (s *Services) openBlobs(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				s.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		s.logger.Info("using gcs storage", zap.String("bucket", cfg.GCSBucket))
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		s.logger.Warn("using memory storage; nothing will be persisted")
		return storagememory.NewBlobStore(), nil
	default:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	}
}

// Close releases every service in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
