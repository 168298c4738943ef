package orchestrator

import (
    "context"
    "fmt"
    "os"
    "strings"

    "github.com/rs/zerolog/log"

    "github.com/local/bedrockbatch/internal/filetype"
    "github.com/local/bedrockbatch/internal/jobs"
    "github.com/local/bedrockbatch/internal/manifest"
    "github.com/local/bedrockbatch/internal/storage"
    "github.com/local/bedrockbatch/internal/store"
)

// RawDataDir is where local source files are uploaded under the input prefix.
const RawDataDir = "raw_data"

// DigestMetadataKey names the manifest digest in the uploaded object's metadata.
const DigestMetadataKey = "manifest-blake2b"

// Store is the object store surface the pipelines use.
type Store interface {
    manifest.Source
    Upload(ctx context.Context, localPath, bucket, key string, metadata map[string]string) (string, error)
    UploadFiles(ctx context.Context, localPaths []string, bucket, prefix string) ([]string, error)
}

// Submitter creates provider jobs.
type Submitter interface {
    Submit(ctx context.Context, req jobs.SubmitRequest) (jobs.Handle, error)
}

type Dependencies struct {
    Store    Store
    Jobs     Submitter
    Registry store.Registry
    Session  *Session
}

// Options are the pipeline-wide settings.
type Options struct {
    Region          string
    RoleARN         string
    WorkDir         string
    MaxEncodedBytes int64
    Concurrency     int
}

// Pipeline runs build, upload, submit and register for one modality at a time.
type Pipeline struct {
    deps Dependencies
    opts Options
}

func New(deps Dependencies, opts Options) *Pipeline {
    if deps.Session == nil { deps.Session = NewSession() }
    return &Pipeline{deps: deps, opts: opts}
}

func (p *Pipeline) Session() *Session { return p.deps.Session }

// Request describes one end-to-end submission.
type Request struct {
    InputBucket  string
    InputPrefix  string
    OutputBucket string
    OutputPrefix string
    ModelID      string
    Prompt       manifest.PromptConfig
    // LocalFiles are uploaded under <InputPrefix>raw_data/ first and become
    // the build input. Text only.
    LocalFiles []string
    JobName    string
    Tags       map[string]string
    Progress   manifest.Sink
}

// Submission is the outcome of a successful run.
type Submission struct {
    Handle      jobs.Handle      `json:"handle"`
    Manifest    *manifest.Result `json:"manifest"`
    ManifestURI string           `json:"manifest_uri"`
    RawKeys     []string         `json:"raw_keys,omitempty"`
    Entry       store.Entry      `json:"entry"`
}

func (p *Pipeline) RunText(ctx context.Context, req Request) (*Submission, error) {
    return p.run(ctx, filetype.Text, req)
}

func (p *Pipeline) RunImage(ctx context.Context, req Request) (*Submission, error) {
    return p.run(ctx, filetype.Image, req)
}

func (p *Pipeline) RunVideo(ctx context.Context, req Request) (*Submission, error) {
    return p.run(ctx, filetype.Video, req)
}

// Run dispatches to the pipeline for m.
func (p *Pipeline) Run(ctx context.Context, m filetype.Modality, req Request) (*Submission, error) {
    return p.run(ctx, m, req)
}

func (p *Pipeline) run(ctx context.Context, m filetype.Modality, req Request) (*Submission, error) {
    if len(req.LocalFiles) > 0 && m != filetype.Text {
        return nil, fmt.Errorf("local file upload is only supported for text batches")
    }
    inPrefix := storage.NormalizePrefix(req.InputPrefix)
    outPrefix := storage.NormalizePrefix(req.OutputPrefix)
    sub := &Submission{}

    if len(req.LocalFiles) > 0 {
        n := len(req.LocalFiles)
        req.Progress.Emit(manifest.PhaseUpload, 0, n, fmt.Sprintf("uploading %d local files", n))
        rawPrefix := inPrefix + RawDataDir + "/"
        keys, err := p.deps.Store.UploadFiles(ctx, req.LocalFiles, req.InputBucket, rawPrefix)
        if err != nil {
            req.Progress.Emit(manifest.PhaseError, len(keys), n, err.Error())
            return nil, fmt.Errorf("upload local files: %w", err)
        }
        req.Progress.Emit(manifest.PhaseUpload, n, n, fmt.Sprintf("uploaded %d local files", n))
        sub.RawKeys = keys
        inPrefix = rawPrefix
    }

    b := manifest.New(p.deps.Store, m, manifest.Options{
        WorkDir:         p.opts.WorkDir,
        MaxEncodedBytes: p.opts.MaxEncodedBytes,
        Concurrency:     p.opts.Concurrency,
    })
    built, err := b.Build(ctx, req.InputBucket, inPrefix, req.Prompt, req.ModelID, req.Progress)
    if err != nil {
        return nil, err
    }
    sub.Manifest = built
    defer func() {
        if rmErr := os.Remove(built.Path); rmErr != nil && !os.IsNotExist(rmErr) {
            log.Warn().Err(rmErr).Str("path", built.Path).Msg("failed to remove local manifest")
        }
    }()

    key := inPrefix + built.FileName
    req.Progress.Emit(manifest.PhaseUpload, 0, 1, "uploading manifest "+built.FileName)
    uri, err := p.deps.Store.Upload(ctx, built.Path, req.InputBucket, key, map[string]string{DigestMetadataKey: built.Digest})
    if err != nil {
        req.Progress.Emit(manifest.PhaseError, 0, 1, err.Error())
        return nil, err
    }
    sub.ManifestURI = uri
    req.Progress.Emit(manifest.PhaseUpload, 1, 1, "manifest uploaded to "+uri)

    h, err := p.submit(ctx, uri, outPrefix, req)
    if err != nil {
        req.Progress.Emit(manifest.PhaseError, 0, 1, err.Error())
        return nil, err
    }
    sub.Handle = h

    sub.Entry = p.register(ctx, h, store.Entry{
        InputBucket:    req.InputBucket,
        InputPrefix:    inPrefix,
        Modality:       string(m),
        ManifestDigest: built.Digest,
    }, req.OutputBucket, outPrefix)

    log.Info().
        Str("job_arn", h.JobARN).
        Str("modality", string(m)).
        Int("records", built.Records).
        Int("skipped", built.Skipped).
        Str("manifest_uri", uri).
        Msg("batch submitted")
    return sub, nil
}

// SubmitManifest submits an already uploaded manifest and registers the job.
// m tags the registry entry and may be empty.
func (p *Pipeline) SubmitManifest(ctx context.Context, manifestURI string, m filetype.Modality, req Request) (*Submission, error) {
    inBucket, inKey, err := storage.ParseURI(manifestURI)
    if err != nil {
        return nil, err
    }
    outPrefix := storage.NormalizePrefix(req.OutputPrefix)
    h, err := p.submit(ctx, manifestURI, outPrefix, req)
    if err != nil {
        return nil, err
    }
    entry := p.register(ctx, h, store.Entry{
        InputBucket: inBucket,
        InputPrefix: storage.NormalizePrefix(dir(inKey)),
        Modality:    string(m),
    }, req.OutputBucket, outPrefix)
    return &Submission{Handle: h, ManifestURI: manifestURI, Entry: entry}, nil
}

func (p *Pipeline) submit(ctx context.Context, manifestURI, outPrefix string, req Request) (jobs.Handle, error) {
    return p.deps.Jobs.Submit(ctx, jobs.SubmitRequest{
        ManifestURI:  manifestURI,
        OutputBucket: req.OutputBucket,
        OutputPrefix: outPrefix,
        ModelID:      req.ModelID,
        RoleARN:      p.opts.RoleARN,
        JobName:      req.JobName,
        Tags:         req.Tags,
    })
}

// register persists the entry and makes the job active. A registry failure
// is logged; the job already exists and stays reachable through the session.
func (p *Pipeline) register(ctx context.Context, h jobs.Handle, e store.Entry, outBucket, outPrefix string) store.Entry {
    e.JobARN = h.JobARN
    e.JobName = h.JobName
    e.ModelID = h.ModelID
    e.OutputBucket = outBucket
    e.OutputPrefix = outPrefix
    e.Region = p.opts.Region
    e.ManifestURI = h.InputURI
    e.Timestamp = h.Submitted

    if p.deps.Registry != nil {
        if err := p.deps.Registry.Save(ctx, e); err != nil {
            log.Error().Err(err).Str("job_arn", h.JobARN).Msg("failed to save registry entry")
        }
    }
    p.deps.Session.SetActive(e)
    return e
}

func dir(key string) string {
    if i := strings.LastIndex(key, "/"); i >= 0 { return key[:i] }
    return ""
}
