package integration

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// AnswerArchive хранит снимок ответов, отправленных кандидатом.
type AnswerArchive interface {
	StoreAnswers(ctx context.Context, attemptID string, answers []byte) error
}

type minioArchive struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIOArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger zerolog.Logger) (AnswerArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	logger.Info().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("Answer archive configured")

	return &minioArchive{
		client: client,
		bucket: bucket,
		logger: logger,
	}, nil
}

// ensureBucket is lazy: MinIO may come up after the service.
func (a *minioArchive) ensureBucket(ctx context.Context) error {
	a.ensureMu.Lock()
	defer a.ensureMu.Unlock()
	if a.bucketEnsured {
		return nil
	}

	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		a.logger.Info().Str("bucket", a.bucket).Msg("Created new bucket")
	}

	a.bucketEnsured = true
	return nil
}

func (a *minioArchive) StoreAnswers(ctx context.Context, attemptID string, answers []byte) error {
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}

	object := AnswersObjectName(attemptID)
	info, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(answers), int64(len(answers)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload answers: %w", err)
	}

	a.logger.Debug().
		Str("bucket", a.bucket).
		Str("object", object).
		Str("etag", info.ETag).
		Msg("Answers archived")

	return nil
}

func AnswersObjectName(attemptID string) string {
	return path.Join("attempts", attemptID, "answers.json")
}

type noopArchive struct{}

func NewNoopArchive() AnswerArchive { return noopArchive{} }

func (noopArchive) StoreAnswers(context.Context, string, []byte) error { return nil }
