package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/config"
	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/orchestrator"
	"github.com/local/bedrockbatch/internal/store"
	"github.com/local/bedrockbatch/internal/storage"
)

// deps builds AWS clients and the registry on first use, so commands only
// pay for what they touch. Engines and gateways are kept per region because
// a registered job is addressed in the region it was submitted to.
type deps struct {
	cfg config.Config
	// pinned is set when --region was given; it then wins over a job's
	// recorded region.
	pinned bool

	gateways map[string]*storage.Gateway
	engines  map[string]*jobs.Engine
	registry store.Registry
	redis    *store.RedisRegistry
	invoker  *ai.BedrockInvoker
	identity *sts.Client
	session  *orchestrator.Session

	newEngine  func(ctx context.Context, region string) (*jobs.Engine, error)
	newGateway func(ctx context.Context, opts storage.Options) (*storage.Gateway, error)
}

func newDeps(c config.Config, pinned bool) *deps {
	return &deps{
		cfg:        c,
		pinned:     pinned,
		gateways:   map[string]*storage.Gateway{},
		engines:    map[string]*jobs.Engine{},
		session:    orchestrator.NewSession(),
		newEngine:  jobs.New,
		newGateway: storage.New,
	}
}

func (d *deps) Gateway(ctx context.Context) (*storage.Gateway, error) {
	return d.GatewayFor(ctx, d.cfg.AWS.S3Region)
}

func (d *deps) GatewayFor(ctx context.Context, region string) (*storage.Gateway, error) {
	if g, ok := d.gateways[region]; ok {
		return g, nil
	}
	g, err := d.newGateway(ctx, storage.Options{
		Region:       region,
		Endpoint:     d.cfg.AWS.S3Endpoint,
		UsePathStyle: d.cfg.AWS.S3UsePathStyle,
		AccessKeyID:  d.cfg.AWS.S3AccessKeyID,
		SecretKey:    d.cfg.AWS.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	d.gateways[region] = g
	return g, nil
}

func (d *deps) Engine(ctx context.Context) (*jobs.Engine, error) {
	return d.EngineFor(ctx, d.cfg.AWS.Region)
}

func (d *deps) EngineFor(ctx context.Context, region string) (*jobs.Engine, error) {
	if e, ok := d.engines[region]; ok {
		return e, nil
	}
	e, err := d.newEngine(ctx, region)
	if err != nil {
		return nil, err
	}
	d.engines[region] = e
	return e, nil
}

// JobRegion is the region e's job lives in: its recorded region unless
// --region was given or none was recorded.
func (d *deps) JobRegion(e store.Entry) string {
	if d.pinned || e.Region == "" {
		return d.cfg.AWS.Region
	}
	return e.Region
}

// JobEngine returns the engine for e's region.
func (d *deps) JobEngine(ctx context.Context, e store.Entry) (*jobs.Engine, error) {
	r := d.JobRegion(e)
	if r != d.cfg.AWS.Region {
		log.Debug().Str("job_arn", e.JobARN).Str("region", r).Msg("using job's recorded region")
	}
	return d.EngineFor(ctx, r)
}

// JobGateway returns the gateway for e's output bucket. Output buckets share
// the job's region; a custom S3 endpoint keeps the configured S3 region.
func (d *deps) JobGateway(ctx context.Context, e store.Entry) (*storage.Gateway, error) {
	r := d.JobRegion(e)
	if r == d.cfg.AWS.Region || d.cfg.AWS.S3Endpoint != "" {
		r = d.cfg.AWS.S3Region
	}
	return d.GatewayFor(ctx, r)
}

func (d *deps) Invoker(ctx context.Context) (*ai.BedrockInvoker, error) {
	if d.invoker != nil {
		return d.invoker, nil
	}
	inv, err := ai.NewBedrockInvoker(ctx, d.cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	d.invoker = inv
	return inv, nil
}

func (d *deps) Identity(ctx context.Context) (*sts.Client, error) {
	if d.identity != nil {
		return d.identity, nil
	}
	c, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(d.cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	d.identity = sts.NewFromConfig(c)
	return d.identity, nil
}

// Registry opens the configured backend: "redis" or the JSON file default.
func (d *deps) Registry() (store.Registry, error) {
	if d.registry != nil {
		return d.registry, nil
	}
	switch d.cfg.Registry.Backend {
	case "redis":
		r, err := store.NewRedisRegistry(d.cfg.Registry.RedisURL, d.cfg.Registry.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect registry redis: %w", err)
		}
		d.redis = r
		d.registry = r
	case "", "file":
		d.registry = store.NewFileRegistry(d.cfg.Registry.Path)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", d.cfg.Registry.Backend)
	}
	return d.registry, nil
}

// Pipeline wires the submission pipeline.
func (d *deps) Pipeline(ctx context.Context) (*orchestrator.Pipeline, error) {
	g, err := d.Gateway(ctx)
	if err != nil {
		return nil, err
	}
	e, err := d.Engine(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := d.Registry()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Dependencies{
		Store:    g,
		Jobs:     e,
		Registry: reg,
		Session:  d.session,
	}, orchestrator.Options{
		Region:          d.cfg.AWS.Region,
		RoleARN:         d.cfg.Batch.RoleARN,
		WorkDir:         d.cfg.Batch.WorkDir,
		MaxEncodedBytes: int64(d.cfg.Batch.MaxEncodedBytes),
		Concurrency:     d.cfg.Batch.Concurrency,
	}), nil
}

// Job resolves the entry a command acts on: the given ARN or the latest
// registered job.
func (d *deps) Job(ctx context.Context, jobARN string) (store.Entry, error) {
	reg, err := d.Registry()
	if err != nil {
		return store.Entry{}, err
	}
	e, ok, err := d.session.Resolve(ctx, reg, jobARN)
	if err != nil {
		return store.Entry{}, err
	}
	if !ok {
		return store.Entry{}, fmt.Errorf("no job given and the registry is empty")
	}
	return e, nil
}

func (d *deps) close() {
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close registry")
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
