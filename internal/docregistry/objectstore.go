package docregistry

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStoreConfig configures the optional raw-blob side-store. Zero value
// (empty Bucket) means no blob store is used.
type BlobStoreConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// blobStore persists the raw fetched document alongside its parsed/chunked
// text, kept for re-parsing without a second fetch (§4.8's domain-stack
// rationale for an object store side-store).
type blobStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// newBlobStore builds a blobStore, or nil if cfg.Bucket is empty.
func newBlobStore(ctx context.Context, cfg BlobStoreConfig) (*blobStore, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("docregistry: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &blobStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

func (b *blobStore) key(docID string) string {
	if b.prefix == "" {
		return docID
	}
	return b.prefix + "/" + docID
}

func (b *blobStore) Put(ctx context.Context, docID string, raw []byte, contentType string) error {
	if b == nil {
		return nil
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(docID)),
		Body:        strings.NewReader(string(raw)),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("docregistry: s3 put: %w", err)
	}
	return nil
}
