package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/aristath/tickerbrief/internal/config"
)

// keyPrefix is the namespace cache keys already carry (see Key). The reaper
// lists by it so nothing else stored in the bucket is ever touched.
const keyPrefix = "tier2/"

// expiresAtMetaKey is the object metadata key carrying the advisory expiry
// as a unix timestamp. S3 lowercases metadata keys on the wire.
const expiresAtMetaKey = "expires-at"

// S3Store is the object-storage tier-2 backend. Works with AWS S3 and
// Cloudflare R2 (custom endpoint). Expiry travels as object metadata rather
// than bucket lifecycle rules so reads enforce the same advisory-TTL
// semantics as the sqlite backend.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store creates an S3-backed tier-2 store.
func NewS3Store(ctx context.Context, cfg *config.S3Config) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Get returns the entry for key regardless of expiry, or nil, nil on a miss.
func (s *S3Store) Get(ctx context.Context, key string) (*Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache object %s: %w", key, err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache object %s: %w", key, err)
	}

	return &Entry{
		Key:       key,
		Value:     value,
		ExpiresAt: parseExpiresAt(out.Metadata),
	}, nil
}

// Put uploads an entry with expiration = now + ttl carried as metadata.
func (s *S3Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(value),
		Metadata: map[string]string{
			expiresAtMetaKey: strconv.FormatInt(expiresAt, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to store cache object %s: %w", key, err)
	}
	return nil
}

// Delete removes a single entry. Deleting a missing key is not an error.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete cache object %s: %w", key, err)
	}
	return nil
}

// DeleteExpired walks the cache prefix and deletes objects past their expiry.
// Expiry lives in per-object metadata, so each candidate costs a HeadObject.
func (s *S3Store) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	var deleted int64

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list cache objects: %w", err)
		}

		for _, obj := range page.Contents {
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return deleted, fmt.Errorf("failed to head cache object %s: %w", aws.ToString(obj.Key), err)
			}

			if parseExpiresAt(head.Metadata).After(now) {
				continue
			}

			_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil && !isNotFound(err) {
				return deleted, fmt.Errorf("failed to delete cache object %s: %w", aws.ToString(obj.Key), err)
			}
			deleted++
		}
	}

	return deleted, nil
}

// parseExpiresAt reads the advisory expiry from object metadata. Objects
// without the metadata key report a zero time and always read as stale.
func parseExpiresAt(metadata map[string]string) time.Time {
	raw, ok := metadata[expiresAtMetaKey]
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// isNotFound reports whether an S3 error means the object does not exist.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
