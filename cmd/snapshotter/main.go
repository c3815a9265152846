// Snapshotter periodically scores the configured countries and archives the
// results to S3-compatible storage.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bturcanu/georisk/pkg/aggregate"
	"github.com/bturcanu/georisk/pkg/config"
	grOtel "github.com/bturcanu/georisk/pkg/otel"
	"github.com/bturcanu/georisk/pkg/snapshot"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// ensureBucket creates the bucket on first run.
func (m minioUploader) ensureBucket(ctx context.Context, region string) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", m.bucket, err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelShutdown, err := grOtel.Setup(ctx, grOtel.Config{
		ServiceName:  config.EnvOr("OTEL_SERVICE_NAME", "georisk-snapshotter"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: config.EnvOrBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	minioClient, err := minio.New(config.EnvOr("SNAPSHOT_S3_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.EnvOr("SNAPSHOT_S3_ACCESS_KEY", "minioadmin"), config.EnvOr("SNAPSHOT_S3_SECRET_KEY", "minioadmin"), ""),
		Secure: config.EnvOrBool("SNAPSHOT_S3_SECURE", false),
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}
	uploader := minioUploader{
		client: minioClient,
		bucket: config.EnvOr("SNAPSHOT_S3_BUCKET", "georisk-snapshots"),
	}
	if err := uploader.ensureBucket(ctx, config.EnvOr("SNAPSHOT_S3_REGION", "us-east-1")); err != nil {
		log.Error("bucket setup failed", "error", err)
		os.Exit(1)
	}

	set := sources.NewSet(sources.Options{
		Endpoints:    sources.DefaultEndpoints(),
		CacheTTL:     config.EnvOrDuration("SOURCE_CACHE_TTL", 10*time.Minute),
		GDELTLimiter: sources.NewGDELTLimiter(),
		Logger:       log,
	})
	factorSets := []aggregate.FactorSet{aggregate.TravelAdvisory, aggregate.HazardMarket}
	engine, err := aggregate.New(set.Adapters(), log, factorSets...)
	if err != nil {
		log.Error("aggregation engine setup failed", "error", err)
		os.Exit(1)
	}

	svc := snapshot.New(engine, uploader, config.EnvOrInt("SNAPSHOT_CONCURRENCY", snapshot.DefaultConcurrency), log)
	sets := config.EnvOrList("SNAPSHOT_FACTOR_SETS", []string{aggregate.TravelAdvisory.Name})
	countries := config.EnvOrList("COUNTRIES", sources.APACCountries)
	runOnce := config.EnvOrBool("SNAPSHOT_RUN_ONCE", true)
	interval := config.EnvOrDuration("SNAPSHOT_INTERVAL", time.Hour)

	run := func() {
		for _, name := range sets {
			if _, err := svc.Archive(ctx, name, countries); err != nil {
				log.Error("snapshot failed", "factor_set", name, "error", err)
			}
		}
	}

	run()
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
