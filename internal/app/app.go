// Package app builds the services shared by the archiver binaries from a
// loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"quote-archiver/internal/coldstore"
	"quote-archiver/internal/config"
	"quote-archiver/internal/integrations/identity"
	"quote-archiver/internal/integrations/paramstore"
	"quote-archiver/internal/repository"
	"quote-archiver/internal/retention"
	"quote-archiver/internal/usecase"
)

// Deps holds the clients built once per process.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger
	AWS    aws.Config

	coldMu sync.Mutex
	cold   coldstore.Store
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	return &Deps{Config: cfg, Logger: logger, AWS: awsCfg}, nil
}

func (d *Deps) LiveStore() (*repository.Client, error) {
	if err := d.Config.RequireLiveStore(); err != nil {
		return nil, err
	}
	return repository.New(awsdynamodb.NewFromConfig(d.AWS), repository.Tables{
		Messages:      d.Config.MessagesTable,
		Notifications: d.Config.NotificationsTable,
		Locks:         d.Config.LockTable,
	})
}

func (d *Deps) ParamStore() (*paramstore.Client, error) {
	return paramstore.New(awsssm.NewFromConfig(d.AWS))
}

// ColdStore returns the process-wide cold store, building it on first use.
// The archiver and the history reader must share it.
func (d *Deps) ColdStore(ctx context.Context) (coldstore.Store, error) {
	d.coldMu.Lock()
	defer d.coldMu.Unlock()
	if d.cold != nil {
		return d.cold, nil
	}
	cold, err := d.newColdStore(ctx)
	if err != nil {
		return nil, err
	}
	d.cold = cold
	return cold, nil
}

func (d *Deps) newColdStore(ctx context.Context) (coldstore.Store, error) {
	switch d.Config.ColdStoreBackend {
	case "s3":
		client := awss3.NewFromConfig(d.AWS, func(o *awss3.Options) {
			if ep := strings.TrimSpace(d.Config.S3Endpoint); ep != "" {
				o.BaseEndpoint = aws.String(ep)
			}
			o.UsePathStyle = d.Config.S3UsePathStyle
		})
		return coldstore.NewS3(client, d.Config.ColdStoreBucket)
	case "gcs":
		client, err := coldstore.NewGCSClient(ctx, d.Config.GCSEmulatorHost)
		if err != nil {
			return nil, fmt.Errorf("app: create gcs client: %w", err)
		}
		return coldstore.NewGCS(client, d.Config.ColdStoreBucket)
	case "memory":
		d.Logger.Warn("cold store is in-memory; archived data does not survive the process")
		return coldstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: unknown cold store backend %q", config.ErrConfiguration, d.Config.ColdStoreBackend)
	}
}

// PolicySource reads retention from the parameter store when a prefix is
// configured and falls back to the environment values otherwise.
func (d *Deps) PolicySource() (retention.Source, error) {
	defaults := retention.Policy{
		MessageRetentionDays: d.Config.MessageRetentionDays,
		NotificationTTLDays:  d.Config.NotificationTTLDays,
	}
	if d.Config.ParamPrefix == "" {
		return retention.StaticSource{Policy: defaults}, nil
	}
	ps, err := d.ParamStore()
	if err != nil {
		return nil, err
	}
	return retention.NewParamSource(ps, d.Config.ParamPrefix, defaults)
}

func (d *Deps) ArchiveService(ctx context.Context, live *repository.Client) (*usecase.ArchiveService, error) {
	cold, err := d.ColdStore(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := d.PolicySource()
	if err != nil {
		return nil, err
	}
	opts := usecase.ArchiveOptions{
		PageSize:         d.Config.PageSize,
		WriteConcurrency: d.Config.WriteConcurrency,
		LeaseTTL:         d.Config.LeaseTTL,
		Logger:           d.Logger,
	}
	if live.HasLocks() {
		opts.Locker = live
	}
	return usecase.NewArchiveService(live, cold, policy, opts)
}

func (d *Deps) HistoryService(ctx context.Context) (*usecase.HistoryService, error) {
	cold, err := d.ColdStore(ctx)
	if err != nil {
		return nil, err
	}
	return usecase.NewHistoryService(cold, d.Logger)
}

func (d *Deps) IdentityClient() (*identity.Client, error) {
	if d.Config.ParamPrefix == "" {
		return nil, fmt.Errorf("%w: PARAM_PREFIX is required for token verification", config.ErrConfiguration)
	}
	ps, err := d.ParamStore()
	if err != nil {
		return nil, err
	}
	return identity.NewClient(ps, d.Config.ParamPrefix, identity.WithBaseURL(d.Config.IdentityBaseURL))
}
