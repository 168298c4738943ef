package statuscheck

import (
    "context"
    "errors"
    "time"

    "github.com/aws/aws-sdk-go-v2/aws"
    "github.com/aws/aws-sdk-go-v2/service/sts"

    "github.com/local/bedrockbatch/internal/jobs"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
    Ping(ctx context.Context) error
}

// BucketChecker verifies a bucket is reachable.
type BucketChecker interface {
    CheckBucket(ctx context.Context, bucket string) error
}

// JobLister lists recent batch jobs; one page is enough to prove access.
type JobLister interface {
    List(ctx context.Context, f jobs.ListFilter) ([]jobs.Snapshot, error)
}

// IdentityAPI resolves the caller's AWS identity.
type IdentityAPI interface {
    GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
    redis    RedisPinger
    buckets  BucketChecker
    bucket   []string
    jobs     JobLister
    identity IdentityAPI
}

// Options configures the Checker. Nil collaborators are reported as not configured.
type Options struct {
    Redis    RedisPinger
    Store    BucketChecker
    Buckets  []string
    Jobs     JobLister
    Identity IdentityAPI
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Registry Status            `json:"registry"`
    S3       map[string]Status `json:"s3"`
    Bedrock  Status            `json:"bedrock"`
    Identity Status            `json:"identity"`
}

// Healthy reports whether every configured check passed.
func (s Summary) Healthy() bool {
    if !s.Bedrock.OK || !s.Identity.OK { return false }
    for _, st := range s.S3 {
        if !st.OK { return false }
    }
    return true
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    return &Checker{
        redis:    opts.Redis,
        buckets:  opts.Store,
        bucket:   opts.Buckets,
        jobs:     opts.Jobs,
        identity: opts.Identity,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Registry: c.checkRedis(ctx),
        S3:       c.checkS3(ctx),
        Bedrock:  c.checkBedrock(ctx),
        Identity: c.checkIdentity(ctx),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: true, Message: "file registry"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) map[string]Status {
    out := map[string]Status{}
    if len(c.bucket) == 0 || c.buckets == nil {
        return out
    }
    for _, b := range c.bucket {
        if b == "" { continue }
        if _, seen := out[b]; seen { continue }
        cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
        err := c.buckets.CheckBucket(cctx, b)
        cancel()
        if err != nil {
            out[b] = Status{OK: false, Message: trimError(err)}
            continue
        }
        out[b] = Status{OK: true, Message: "Connected"}
    }
    return out
}

func (c *Checker) checkBedrock(ctx context.Context) Status {
    if c.jobs == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if _, err := c.jobs.List(ctx, jobs.ListFilter{Max: 1}); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkIdentity(ctx context.Context) Status {
    if c.identity == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    out, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: aws.ToString(out.Arn)}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    if errors.Is(err, context.DeadlineExceeded) {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
