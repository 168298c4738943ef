package results

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/metrics"
	"github.com/local/bedrockbatch/internal/storage"
)

const (
	// DefaultPreviewLines caps the preview when Options.PreviewLines is unset.
	DefaultPreviewLines = 3

	manifestName   = "manifest.json.out"
	dataSuffix     = ".jsonl.out"
	probeLines     = 5
	probeBytes     = 1 << 20
	maxLineBytes   = 64 << 20
	maxWarnSamples = 5
	maxStatsBytes  = 1 << 20
)

// StatusSource reports a job's current status.
type StatusSource interface {
	GetStatus(ctx context.Context, jobARN string) jobs.Snapshot
}

// Store is the read side of the object store used for resolution.
type Store interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type Options struct {
	// PreviewLines caps how many non-empty lines of the data file are read.
	PreviewLines int
	// PresignTTL, when > 0, adds a download URL for the data file.
	PresignTTL time.Duration
}

// Result is a resolved job output.
type Result struct {
	JobARN   string           `json:"job_arn"`
	JobID    string           `json:"job_id"`
	Records  []Record         `json:"records"`
	Location storage.Location `json:"location"`
	// ManifestKey is the aggregate stats file, empty when the job wrote none.
	ManifestKey string `json:"manifest_key,omitempty"`
	Stats       *Stats `json:"stats,omitempty"`
	// DataFiles lists every data file found; Location points at the first.
	DataFiles     []string              `json:"data_files"`
	LinesRead     int                   `json:"lines_read"`
	Malformed     int                   `json:"malformed"`
	Warnings      []PartialParseWarning `json:"warnings,omitempty"`
	ParsedNothing bool                  `json:"parsed_nothing"`
	PresignedURL  string                `json:"presigned_url,omitempty"`
}

// Successes and Failures split the preview by outcome.
func (r *Result) Successes() int {
	n := 0
	for _, rec := range r.Records {
		if !rec.HasError {
			n++
		}
	}
	return n
}

func (r *Result) Failures() int { return len(r.Records) - r.Successes() }

// Resolver locates and previews the output of completed jobs.
type Resolver struct {
	status StatusSource
	store  Store
}

func NewResolver(status StatusSource, store Store) *Resolver {
	return &Resolver{status: status, store: store}
}

// Resolve finds the job's result file from the provider-reported output URI
// and returns a bounded preview of it. The file is streamed; at most
// PreviewLines non-empty lines are read.
func (r *Resolver) Resolve(ctx context.Context, jobARN string, opts Options) (*Result, error) {
	if opts.PreviewLines <= 0 {
		opts.PreviewLines = DefaultPreviewLines
	}

	snap := r.status.GetStatus(ctx, jobARN)
	if snap.Status != jobs.StatusCompleted {
		return nil, &NotReadyError{JobARN: jobARN, Status: snap.Status, Message: snap.Message}
	}

	jobID := jobs.JobID(jobARN)
	if snap.OutputURI == "" {
		return nil, &ResultNotFoundError{JobID: jobID, Reason: "job status carries no output location"}
	}
	bucket, prefix, err := storage.ParseURI(snap.OutputURI)
	if err != nil {
		return nil, &ResultNotFoundError{JobID: jobID, OutputURI: snap.OutputURI, Reason: err.Error()}
	}
	search := jobPrefix(prefix, jobID)

	keys, err := r.store.ListKeys(ctx, bucket, search)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("job_arn", jobARN).
		Str("bucket", bucket).
		Str("prefix", search).
		Int("keys", len(keys)).
		Msg("listed job output")

	res := &Result{JobARN: jobARN, JobID: jobID}
	var others []string
	for _, k := range keys {
		switch {
		case strings.HasSuffix(k, "/"):
		case path.Base(k) == manifestName:
			res.ManifestKey = k
		case strings.HasSuffix(k, dataSuffix):
			res.DataFiles = append(res.DataFiles, k)
		default:
			others = append(others, k)
		}
	}

	dataKey := ""
	if len(res.DataFiles) > 0 {
		dataKey = res.DataFiles[0]
	} else {
		dataKey = r.probe(ctx, bucket, others)
		if dataKey != "" {
			res.DataFiles = []string{dataKey}
		}
	}
	if dataKey == "" {
		nf := &ResultNotFoundError{
			JobID:     jobID,
			OutputURI: snap.OutputURI,
			Bucket:    bucket,
			Prefix:    search,
			Keys:      keys,
		}
		log.Error().Str("job_arn", jobARN).Str("bucket", bucket).Str("prefix", search).Strs("keys", keys).Msg("no result file found")
		return nil, nf
	}
	res.Location = storage.NewLocation(bucket, dataKey)

	if res.ManifestKey != "" {
		res.Stats = r.readStats(ctx, bucket, res.ManifestKey)
	}

	if err := r.preview(ctx, res, bucket, dataKey, opts.PreviewLines); err != nil {
		return nil, err
	}
	res.ParsedNothing = len(res.Records) == 0
	if res.ParsedNothing {
		log.Warn().Str("job_arn", jobARN).Str("uri", res.Location.URI).Int("malformed", res.Malformed).
			Msg("result file found but no line parsed")
	}

	if opts.PresignTTL > 0 {
		url, err := r.store.Presign(ctx, bucket, dataKey, opts.PresignTTL)
		if err != nil {
			log.Warn().Err(err).Str("key", dataKey).Msg("presign failed")
		} else {
			res.PresignedURL = url
		}
	}

	log.Info().
		Str("job_arn", jobARN).
		Str("uri", res.Location.URI).
		Int("records", len(res.Records)).
		Int("malformed", res.Malformed).
		Bool("stats", res.Stats != nil).
		Msg("resolved job results")
	return res, nil
}

// preview streams key and parses up to limit non-empty lines into res.
func (r *Resolver) preview(ctx context.Context, res *Result, bucket, key string, limit int) error {
	body, err := r.store.Open(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for res.LinesRead < limit && sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		res.LinesRead++

		rec, err := ParseLine(line)
		if err != nil {
			res.Malformed++
			metrics.IncResultLine("malformed")
			if len(res.Warnings) < maxWarnSamples {
				res.Warnings = append(res.Warnings, PartialParseWarning{Line: lineNo, Reason: err.Error()})
			}
			log.Warn().Err(err).Str("key", key).Int("line", lineNo).Msg("skipping malformed result line")
			continue
		}
		if rec.HasError {
			metrics.IncResultLine("error")
		} else {
			metrics.IncResultLine("success")
		}
		res.Records = append(res.Records, rec)
	}
	if err := sc.Err(); err != nil {
		// A line too long for the scanner ends the preview; what was parsed stays.
		res.Malformed++
		if len(res.Warnings) < maxWarnSamples {
			res.Warnings = append(res.Warnings, PartialParseWarning{Line: lineNo + 1, Reason: err.Error()})
		}
		log.Warn().Err(err).Str("key", key).Msg("result stream ended early")
	}
	return ctx.Err()
}

// probe returns the first key whose leading lines decode as output records.
func (r *Resolver) probe(ctx context.Context, bucket string, keys []string) string {
	for _, k := range keys {
		if strings.Contains(strings.ToLower(path.Base(k)), "manifest") {
			continue
		}
		if r.looksLikeResults(ctx, bucket, k) {
			log.Info().Str("key", k).Msg("using fallback result file")
			return k
		}
	}
	return ""
}

func (r *Resolver) looksLikeResults(ctx context.Context, bucket, key string) bool {
	body, err := r.store.Open(ctx, bucket, key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("probe open failed")
		return false
	}
	defer body.Close()

	sc := bufio.NewScanner(io.LimitReader(body, probeBytes))
	sc.Buffer(make([]byte, 0, 64*1024), probeBytes)
	seen := 0
	for seen < probeLines && sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		seen++
		if looksLikeRecord(line) {
			return true
		}
	}
	return false
}

func (r *Resolver) readStats(ctx context.Context, bucket, key string) *Stats {
	body, err := r.store.Open(ctx, bucket, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("read result manifest failed")
		return nil
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxStatsBytes))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("read result manifest failed")
		return nil
	}
	st, err := ParseStats(data)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("result manifest unreadable")
		return nil
	}
	return st
}

// Summary renders the aggregate counters for display.
func (s *Stats) Summary() string {
	return fmt.Sprintf("%d/%d processed, %d ok, %d failed, tokens in %d out %d",
		s.Processed, s.Total, s.Success, s.Error, s.InputTokens, s.OutputTokens)
}

// jobPrefix is the key prefix holding a job's output files. The provider
// writes under <output prefix>/<job id>/, but a status may already report
// that directory as its output location.
func jobPrefix(prefix, jobID string) string {
	p := storage.NormalizePrefix(prefix)
	if path.Base(strings.TrimSuffix(p, "/")) == jobID {
		return p
	}
	return p + jobID + "/"
}
