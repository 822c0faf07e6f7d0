package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"quote-archiver/internal/archive"
	"quote-archiver/internal/coldstore"
	"quote-archiver/internal/config"
	"quote-archiver/internal/domain"
	"quote-archiver/internal/retention"
)

func testDeps(cfg config.Config) *Deps {
	return &Deps{Config: &cfg, Logger: nil, AWS: aws.Config{Region: "eu-west-1"}}
}

func baseConfig() config.Config {
	return config.Config{
		ColdStoreBackend:     "memory",
		ColdStoreBucket:      "archive",
		MessageRetentionDays: 30,
		NotificationTTLDays:  7,
	}
}

func TestColdStore_Backends(t *testing.T) {
	d := testDeps(baseConfig())
	d.Logger = discardLogger()
	store, err := d.ColdStore(context.Background())
	require.NoError(t, err)
	require.IsType(t, &coldstore.Memory{}, store)

	cfg := baseConfig()
	cfg.ColdStoreBackend = "s3"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.S3UsePathStyle = true
	store, err = testDeps(cfg).ColdStore(context.Background())
	require.NoError(t, err)
	require.IsType(t, &coldstore.S3Store{}, store)

	cfg.ColdStoreBackend = "ftp"
	_, err = testDeps(cfg).ColdStore(context.Background())
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func TestColdStore_SharedByArchiverAndHistory(t *testing.T) {
	cfg := baseConfig()
	cfg.MessagesTable = "messages"
	cfg.NotificationsTable = "notifications"
	d := testDeps(cfg)
	d.Logger = discardLogger()
	ctx := context.Background()

	live, err := d.LiveStore()
	require.NoError(t, err)
	_, err = d.ArchiveService(ctx, live)
	require.NoError(t, err)
	writer, err := d.ColdStore(ctx)
	require.NoError(t, err)

	history, err := d.HistoryService(ctx)
	require.NoError(t, err)
	reader, err := d.ColdStore(ctx)
	require.NoError(t, err)
	require.Same(t, writer, reader)

	msg := domain.Message{ID: "m-1", QuoteRequestID: "qr-1", Text: "hi", CreatedAt: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)}
	data, err := archive.EncodeLines([]domain.Message{msg}, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, writer.Write(ctx, "messages/qr-1/2024-05/run-p00001.jsonl", data, archive.ContentType))

	got, err := history.LoadHistory(ctx, "qr-1", "2024-05")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m-1", got[0].ID)
}

func TestPolicySource_StaticWithoutPrefix(t *testing.T) {
	src, err := testDeps(baseConfig()).PolicySource()
	require.NoError(t, err)
	p, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, retention.Policy{MessageRetentionDays: 30, NotificationTTLDays: 7}, p)
}

func TestPolicySource_ParamStoreWithPrefix(t *testing.T) {
	cfg := baseConfig()
	cfg.ParamPrefix = "/quote-archiver"
	src, err := testDeps(cfg).PolicySource()
	require.NoError(t, err)
	require.IsType(t, &retention.ParamSource{}, src)
}

func TestLiveStore_RequiresTables(t *testing.T) {
	_, err := testDeps(baseConfig()).LiveStore()
	require.ErrorIs(t, err, config.ErrConfiguration)

	cfg := baseConfig()
	cfg.MessagesTable = "messages"
	cfg.NotificationsTable = "notifications"
	live, err := testDeps(cfg).LiveStore()
	require.NoError(t, err)
	require.False(t, live.HasLocks())
}

func TestIdentityClient_RequiresPrefix(t *testing.T) {
	_, err := testDeps(baseConfig()).IdentityClient()
	require.ErrorIs(t, err, config.ErrConfiguration)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
