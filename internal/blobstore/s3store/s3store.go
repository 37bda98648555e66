// Package s3store implements blobstore.Store against S3-compatible object
// storage via aws-sdk-go-v2, wrapping the same
// PutObject/GetObject/ListObjectsV2/DeleteObject calls as
// kevingil-blog's pkg/integrations/s3.Client, generalized from a
// single-bucket file manager to the Artifact Store's key convention.
package s3store

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sentinelai/sentinel/internal/blobstore"
)

// Store wraps an s3.Client bound to a single bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// Config configures the underlying S3 client. Endpoint is optional — set it
// for S3-compatible services (MinIO, R2, etc.); left empty it uses AWS's
// default resolver.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// New builds a Store from Config, loading AWS credentials the standard
// way (environment, shared config file, or instance profile).
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3store: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put implements blobstore.Store.
func (s *Store) Put(ctx context.Context, key string, data io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("s3store: putting %q: %w", key, err)
	}
	return nil
}

// Get implements blobstore.Store.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: getting %q: %w", key, err)
	}
	return out.Body, nil
}

// List implements blobstore.Store, paginating through ListObjectsV2 until
// every key under prefix has been collected.
func (s *Store) List(ctx context.Context, prefix string) ([]blobstore.ObjectInfo, error) {
	var infos []blobstore.ObjectInfo

	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("s3store: listing prefix %q: %w", prefix, err)
		}

		for _, obj := range out.Contents {
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			info := blobstore.ObjectInfo{Key: aws.ToString(obj.Key), Size: size}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC().Format("2006-01-02T15:04:05Z")
			}
			infos = append(infos, info)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return infos, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3store: deleting %q: %w", key, err)
	}
	return nil
}

// DeletePrefix implements blobstore.Store by listing then batch-deleting —
// S3 has no native prefix-delete operation.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}

	const batchSize = 1000
	for i := 0; i < len(objects); i += batchSize {
		end := min(i+batchSize, len(objects))
		batch := objects[i:end]

		ids := make([]s3types.ObjectIdentifier, len(batch))
		for j, obj := range batch {
			ids[j] = s3types.ObjectIdentifier{Key: aws.String(obj.Key)}
		}

		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: ids},
		})
		if err != nil {
			return fmt.Errorf("s3store: batch-deleting prefix %q: %w", prefix, err)
		}
	}

	return nil
}
