/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// ObjectGetter is the subset of the S3 client used here.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates pre-transcoded artifacts in an S3-compatible bucket.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string
	UsePathStyle    bool
}

// ObjectResolver downloads <prefix><trackID>.mp3 from a bucket.
type ObjectResolver struct {
	client ObjectGetter
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Client builds an S3 client from cfg, using static credentials when provided.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewObjectResolver returns a resolver reading from bucket.
func NewObjectResolver(client ObjectGetter, bucket, prefix string, logger zerolog.Logger) *ObjectResolver {
	return &ObjectResolver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "resolver").Str("backend", "s3").Logger(),
	}
}

// Key returns the object key for trackID.
func (r *ObjectResolver) Key(trackID string) string {
	return path.Join(r.prefix, trackID+".mp3")
}

// Resolve implements Resolver.
func (r *ObjectResolver) Resolve(ctx context.Context, trackID, dest string) error {
	key := r.Key(trackID)
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return Fail(trackID, ReasonUnavailable, fmt.Errorf("s3://%s/%s: %w", r.bucket, key, err))
		}
		return Fail(trackID, ReasonTransient, fmt.Errorf("get s3://%s/%s: %w", r.bucket, key, err))
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return Fail(trackID, ReasonTransient, fmt.Errorf("create %s: %w", dest, err))
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		_ = os.Remove(dest)
		return Fail(trackID, ReasonTransient, fmt.Errorf("download %s: %w", key, err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return Fail(trackID, ReasonTransient, fmt.Errorf("close %s: %w", dest, err))
	}

	r.logger.Debug().Str("track_id", trackID).Str("key", key).Msg("downloaded artifact")
	return nil
}
