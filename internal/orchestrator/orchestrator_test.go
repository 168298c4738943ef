package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/manifest"
	"github.com/local/bedrockbatch/internal/results"
	"github.com/local/bedrockbatch/internal/storage"
	"github.com/local/bedrockbatch/internal/storage/storagetest"
	"github.com/local/bedrockbatch/internal/store"
)

const (
	claudeModel = "us.anthropic.claude-3-5-haiku-20241022-v1:0"
	jobARN      = "arn:aws:bedrock:us-east-1:123456789012:model-invocation-job/abc123"
)

type fakeSubmitter struct {
	reqs []jobs.SubmitRequest
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobs.SubmitRequest) (jobs.Handle, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return jobs.Handle{}, f.err
	}
	return jobs.Handle{
		JobARN:    jobARN,
		JobName:   "batch-job-1",
		ModelID:   req.ModelID,
		InputURI:  req.ManifestURI,
		OutputURI: jobs.OutputURI(req.OutputBucket, req.OutputPrefix),
		Submitted: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
	}, nil
}

type fixture struct {
	fake     *storagetest.FakeS3
	sub      *fakeSubmitter
	reg      *store.FileRegistry
	pipeline *Pipeline
	workDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fake:    storagetest.New(),
		sub:     &fakeSubmitter{},
		reg:     store.NewFileRegistry(filepath.Join(t.TempDir(), "job_states.json")),
		workDir: t.TempDir(),
	}
	f.pipeline = New(Dependencies{
		Store:    storage.NewWithClient(f.fake, nil),
		Jobs:     f.sub,
		Registry: f.reg,
	}, Options{Region: "us-east-1", RoleARN: "arn:aws:iam::123456789012:role/batch", WorkDir: f.workDir})
	return f
}

func writeLocal(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunTextWithLocalFiles(t *testing.T) {
	f := newFixture(t)
	f.fake.PutString("in", "docs/old.txt", "not part of this run")
	rec := &manifest.Recorder{}

	sub, err := f.pipeline.RunText(context.Background(), Request{
		InputBucket:  "in",
		InputPrefix:  "/docs",
		OutputBucket: "out",
		OutputPrefix: "results",
		ModelID:      claudeModel,
		Prompt:       manifest.PromptConfig{Instruction: "Summarize"},
		LocalFiles:   []string{writeLocal(t, "a.txt", "alpha"), writeLocal(t, "b.txt", "bravo")},
		Progress:     rec.Sink(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"docs/raw_data/a.txt", "docs/raw_data/b.txt"}, sub.RawKeys)
	assert.Equal(t, 2, sub.Manifest.Records)

	manifestKey := "docs/raw_data/" + sub.Manifest.FileName
	assert.Equal(t, "s3://in/"+manifestKey, sub.ManifestURI)
	body, ok := f.fake.Object("in", manifestKey)
	require.True(t, ok)
	assert.Equal(t, 2, strings.Count(string(body), "\n"))
	assert.Equal(t, sub.Manifest.Digest, f.fake.Metadata("in", manifestKey)[DigestMetadataKey])

	_, statErr := os.Stat(sub.Manifest.Path)
	assert.True(t, os.IsNotExist(statErr), "local manifest is removed after upload")

	require.Len(t, f.sub.reqs, 1)
	req := f.sub.reqs[0]
	assert.Equal(t, sub.ManifestURI, req.ManifestURI)
	assert.Equal(t, "out", req.OutputBucket)
	assert.Equal(t, "results/", req.OutputPrefix)
	assert.Equal(t, "arn:aws:iam::123456789012:role/batch", req.RoleARN)

	saved, ok, err := f.reg.Latest(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, jobARN, saved.JobARN)
	assert.Equal(t, "docs/raw_data/", saved.InputPrefix)
	assert.Equal(t, "results/", saved.OutputPrefix)
	assert.Equal(t, "us-east-1", saved.Region)
	assert.Equal(t, "text", saved.Modality)
	assert.Equal(t, sub.Manifest.Digest, saved.ManifestDigest)

	active, ok := f.pipeline.Session().Active()
	require.True(t, ok)
	assert.Equal(t, jobARN, active.JobARN)

	assert.Equal(t, []manifest.Phase{
		manifest.PhaseUpload, manifest.PhaseUpload,
		manifest.PhaseScan, manifest.PhaseProcess, manifest.PhaseProcess, manifest.PhaseGenerate,
		manifest.PhaseUpload, manifest.PhaseUpload,
	}, rec.Phases())
}

func TestRunImageRejectsLocalFiles(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.RunImage(context.Background(), Request{
		InputBucket: "in", ModelID: claudeModel, LocalFiles: []string{"x.png"},
	})
	require.Error(t, err)
	assert.Empty(t, f.sub.reqs)
}

func TestRunSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	f.fake.PutString("in", "docs/a.txt", "alpha")
	f.sub.err = &jobs.SubmissionError{JobName: "j", ModelID: claudeModel, Code: "ValidationException", Message: "bad role"}
	rec := &manifest.Recorder{}

	_, err := f.pipeline.RunText(context.Background(), Request{
		InputBucket: "in", InputPrefix: "docs", OutputBucket: "out", ModelID: claudeModel, Progress: rec.Sink(),
	})
	require.Error(t, err)
	assert.True(t, jobs.IsSubmission(err))

	_, ok, err := f.reg.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = f.pipeline.Session().Active()
	assert.False(t, ok)

	left, err := filepath.Glob(filepath.Join(f.workDir, "batch-*.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, left)

	phases := rec.Phases()
	assert.Equal(t, manifest.PhaseError, phases[len(phases)-1])
}

func TestRunEmptyInput(t *testing.T) {
	f := newFixture(t)
	f.fake.PutString("in", "docs/a.pdf", "pdf")

	_, err := f.pipeline.RunText(context.Background(), Request{
		InputBucket: "in", InputPrefix: "docs", OutputBucket: "out", ModelID: claudeModel,
	})
	assert.True(t, manifest.IsEmptyInput(err))
	assert.Empty(t, f.sub.reqs)
}

func TestSubmitManifest(t *testing.T) {
	f := newFixture(t)
	sub, err := f.pipeline.SubmitManifest(context.Background(), "s3://in/batches/img/batch-image-1-ab.jsonl", "image", Request{
		OutputBucket: "out", OutputPrefix: "/img-results/", ModelID: claudeModel,
	})
	require.NoError(t, err)
	assert.Equal(t, "in", sub.Entry.InputBucket)
	assert.Equal(t, "batches/img/", sub.Entry.InputPrefix)
	assert.Equal(t, "img-results/", sub.Entry.OutputPrefix)
	assert.Equal(t, "s3://in/batches/img/batch-image-1-ab.jsonl", sub.Entry.ManifestURI)
	assert.Equal(t, "image", sub.Entry.Modality)
}

func TestSessionResolve(t *testing.T) {
	ctx := context.Background()
	reg := store.NewFileRegistry(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, reg.Save(ctx, store.Entry{JobARN: "arn:old", Timestamp: time.Now().Add(-time.Hour)}))
	require.NoError(t, reg.Save(ctx, store.Entry{JobARN: "arn:new", Modality: "video", Timestamp: time.Now()}))

	s := NewSession()
	e, ok, err := s.Resolve(ctx, reg, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:new", e.JobARN)

	e, ok, err = s.Resolve(ctx, reg, "arn:old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:old", e.JobARN)
	active, _ := s.Active()
	assert.Equal(t, "arn:old", active.JobARN)

	e, ok, err = s.Resolve(ctx, reg, "arn:unknown")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.Entry{JobARN: "arn:unknown"}, e)

	s.Clear()
	_, ok, err = s.Resolve(ctx, nil, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeMonitor struct {
	snap jobs.Snapshot
	err  error
}

func (f fakeMonitor) Monitor(context.Context, string, jobs.MonitorOptions) (jobs.Snapshot, error) {
	return f.snap, f.err
}

type fakeResolver struct {
	got []results.Options
}

func (f *fakeResolver) Resolve(_ context.Context, arn string, opts results.Options) (*results.Result, error) {
	f.got = append(f.got, opts)
	return &results.Result{JobARN: arn, Records: []results.Record{{RecordID: "r0"}}}, nil
}

func TestFollowResolvesCompletedJobs(t *testing.T) {
	res := &fakeResolver{}
	mon := fakeMonitor{snap: jobs.Snapshot{JobARN: jobARN, Status: jobs.StatusCompleted}}

	out, err := Follow(context.Background(), mon, res, store.Entry{JobARN: jobARN, Modality: "video"},
		FollowOptions{Results: results.Options{PreviewLines: 3}, VideoPreviewLines: 1})
	require.NoError(t, err)
	require.NotNil(t, out.Results)
	assert.Len(t, out.Results.Records, 1)
	require.Len(t, res.got, 1)
	assert.Equal(t, 1, res.got[0].PreviewLines)

	_, err = Follow(context.Background(), mon, res, store.Entry{JobARN: jobARN, Modality: "text"},
		FollowOptions{Results: results.Options{PreviewLines: 3}, VideoPreviewLines: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.got[1].PreviewLines)
}

func TestFollowStopsOnFailureAndCancel(t *testing.T) {
	res := &fakeResolver{}
	out, err := Follow(context.Background(), fakeMonitor{snap: jobs.Snapshot{Status: jobs.StatusFailed, Message: "role"}}, res,
		store.Entry{JobARN: jobARN}, FollowOptions{})
	require.NoError(t, err)
	assert.Nil(t, out.Results)
	assert.Equal(t, jobs.StatusFailed, out.Snapshot.Status)

	out, err = Follow(context.Background(), fakeMonitor{snap: jobs.Snapshot{Status: jobs.StatusInProgress}, err: context.Canceled}, res,
		store.Entry{JobARN: jobARN}, FollowOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, jobs.StatusInProgress, out.Snapshot.Status)
	assert.Empty(t, res.got)
}

func TestCleanupManifests(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "batch-text-1-aa.jsonl")
	fresh := filepath.Join(dir, "batch-text-2-bb.jsonl")
	other := filepath.Join(dir, "notes.jsonl")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	assert.Equal(t, 1, CleanupManifests(dir, 24*time.Hour))
	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)
}
