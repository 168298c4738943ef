// Package storagetest provides an in-memory S3 double for gateway consumers.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type object struct {
	data     []byte
	metadata map[string]string
	modified time.Time
}

// FakeS3 implements storage.S3API in memory. Keys list in lexical order like S3.
type FakeS3 struct {
	mu        sync.Mutex
	buckets   map[string]map[string]object
	forbidden map[string]bool

	// PageSize caps keys per ListObjectsV2 page (default 1000).
	PageSize int
	// ListCalls counts ListObjectsV2 invocations.
	ListCalls int
	// GetCalls counts GetObject invocations per key.
	GetCalls map[string]int
	// WrapBody, when set, wraps every returned GetObject body.
	WrapBody func(key string, rc io.ReadCloser) io.ReadCloser
}

func New() *FakeS3 {
	return &FakeS3{
		buckets:   map[string]map[string]object{},
		forbidden: map[string]bool{},
		GetCalls:  map[string]int{},
	}
}

// Put stores an object.
func (f *FakeS3) Put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]object{}
	}
	f.buckets[bucket][key] = object{data: append([]byte(nil), data...), modified: time.Now()}
}

// PutString stores a text object.
func (f *FakeS3) PutString(bucket, key, data string) { f.Put(bucket, key, []byte(data)) }

// Forbid makes every call against bucket fail with AccessDenied.
func (f *FakeS3) Forbid(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[bucket] = true
}

// Object returns a stored object body.
func (f *FakeS3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.buckets[bucket][key]
	return o.data, ok
}

// Metadata returns the user metadata of a stored object.
func (f *FakeS3) Metadata(bucket, key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[bucket][key].metadata
}

// Keys lists all keys in a bucket.
func (f *FakeS3) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedKeys(bucket, "")
}

func (f *FakeS3) sortedKeys(bucket, prefix string) []string {
	var keys []string
	for k := range f.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func denied() error {
	return &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
}

func (f *FakeS3) check(bucket string) error {
	if f.forbidden[bucket] {
		return denied()
	}
	if _, ok := f.buckets[bucket]; !ok {
		return &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	}
	return nil
}

func (f *FakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++
	bucket := aws.ToString(in.Bucket)
	if err := f.check(bucket); err != nil {
		return nil, err
	}
	keys := f.sortedKeys(bucket, aws.ToString(in.Prefix))

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("bad token %q", tok)
		}
		start = n
	}
	size := f.PageSize
	if size <= 0 {
		size = 1000
	}
	end := start + size
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{KeyCount: aws.Int32(int32(end - start))}
	for _, k := range keys[start:end] {
		o := f.buckets[bucket][k]
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.modified),
		})
	}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *FakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.GetCalls[key]++
	if err := f.check(bucket); err != nil {
		return nil, err
	}
	o, ok := f.buckets[bucket][key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	var body io.ReadCloser = io.NopCloser(bytes.NewReader(o.data))
	if f.WrapBody != nil {
		body = f.WrapBody(key, body)
	}
	return &s3.GetObjectOutput{Body: body, ContentLength: aws.Int64(int64(len(o.data)))}, nil
}

func (f *FakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(aws.ToString(in.Bucket)); err != nil {
		return nil, err
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	bucket, key := aws.ToString(in.Bucket), aws.ToString(in.Key)
	var data []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		data = b
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forbidden[bucket] {
		return nil, denied()
	}
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]object{}
	}
	f.buckets[bucket][key] = object{data: data, metadata: in.Metadata, modified: time.Now()}
	return &s3.PutObjectOutput{ETag: aws.String(`"fake"`)}, nil
}

var errMultipart = errors.New("multipart upload not supported by fake")

func (f *FakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (f *FakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *FakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (f *FakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

// CountingReader counts bytes and Read calls passing through.
type CountingReader struct {
	R     io.ReadCloser
	Bytes int64
	Reads int
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.Bytes += int64(n)
	c.Reads++
	return n, err
}

func (c *CountingReader) Close() error { return c.R.Close() }
