package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of the S3 client the gateway relies on.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Presigner issues time-limited GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// SourceObject is one listed object. Directory markers never appear here.
type SourceObject struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Options configures New.
type Options struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
	AccessKeyID  string
	SecretKey    string
}

// Gateway is the object store gateway over S3.
type Gateway struct {
	client    S3API
	uploader  *manager.Uploader
	presigner Presigner
}

// New loads the default AWS config and builds a gateway. Static keys are only
// used together with a custom endpoint (S3-compatible stores).
func New(ctx context.Context, opts Options) (*Gateway, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" && opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewWithClient(cli, s3.NewPresignClient(cli)), nil
}

// NewWithClient wraps an existing client. presigner may be nil, in which case
// Presign reports an error.
func NewWithClient(client S3API, presigner Presigner) *Gateway {
	return &Gateway{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: presigner,
	}
}

// List returns every object under prefix in listing order, following all
// pages. The prefix key itself, keys ending in "/" and zero-byte objects are
// skipped.
func (g *Gateway) List(ctx context.Context, bucket, prefix string) ([]SourceObject, error) {
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var (
		out     []SourceObject
		pages   int
		scanned int
		skipped int
	)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", bucket, "", err)
		}
		pages++
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			scanned++
			key := *obj.Key
			size := aws.ToInt64(obj.Size)
			if key == "" || key == prefix || strings.HasSuffix(key, "/") || size == 0 {
				skipped++
				continue
			}
			out = append(out, SourceObject{
				Bucket:       bucket,
				Key:          key,
				Name:         path.Base(key),
				Size:         size,
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	log.Debug().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("pages", pages).
		Int("scanned", scanned).
		Int("skipped", skipped).
		Int("returned", len(out)).
		Msg("listed objects")
	return out, nil
}

// ListKeys returns every raw key under prefix, including directory markers.
// Used where the full enumeration matters for diagnostics.
func (g *Gateway) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", bucket, "", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// Open streams an object. The caller must close the reader.
func (g *Gateway) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	res, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", bucket, key, err)
	}
	return res.Body, nil
}

// ReadBinary downloads a whole object.
func (g *Gateway) ReadBinary(ctx context.Context, bucket, key string) ([]byte, error) {
	body, err := g.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classify("read", bucket, key, err)
	}
	return data, nil
}

// ReadText downloads a whole object as a UTF-8 string.
func (g *Gateway) ReadText(ctx context.Context, bucket, key string) (string, error) {
	data, err := g.ReadBinary(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Upload streams a local file to bucket/key and returns its canonical URI.
func (g *Gateway) Upload(ctx context.Context, localPath, bucket, key string, metadata map[string]string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = g.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("upload failed")
		return "", classify("put", bucket, key, err)
	}

	uri := FormatURI(bucket, key)
	log.Info().Str("uri", uri).Str("local", localPath).Msg("uploaded file")
	return uri, nil
}

// UploadFiles uploads local files under prefix using their base names and
// returns the created keys. The first failure aborts the batch.
func (g *Gateway) UploadFiles(ctx context.Context, localPaths []string, bucket, prefix string) ([]string, error) {
	prefix = NormalizePrefix(prefix)
	keys := make([]string, 0, len(localPaths))
	for _, p := range localPaths {
		if _, err := os.Stat(p); err != nil {
			return keys, fmt.Errorf("local file %s: %w", p, err)
		}
		key := prefix + filepath.Base(p)
		if _, err := g.Upload(ctx, p, bucket, key, nil); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Presign returns a GET URL valid for ttl.
func (g *Gateway) Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if g.presigner == nil {
		return "", fmt.Errorf("presign not supported by this gateway")
	}
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign", bucket, key, err)
	}
	return req.URL, nil
}

// CheckBucket verifies the bucket is reachable with current credentials.
func (g *Gateway) CheckBucket(ctx context.Context, bucket string) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	return classify("head", bucket, "", err)
}
