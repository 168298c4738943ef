package manifest

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/metrics"
	"github.com/local/bedrockbatch/internal/storage"
)

const (
	// DefaultMaxEncodedBytes caps one record's payload after base64.
	DefaultMaxEncodedBytes = 25 << 20
	// DefaultImageMaxEncodedBytes is the stricter ceiling for images.
	DefaultImageMaxEncodedBytes = 20 << 20
)

// Source is the part of the object store the builders read from.
type Source interface {
	List(ctx context.Context, bucket, prefix string) ([]storage.SourceObject, error)
	ReadBinary(ctx context.Context, bucket, key string) ([]byte, error)
}

// PromptConfig carries the caller's prompts. Instruction wraps text sources;
// UserPrompt and SystemPrompt go with image and video payloads.
type PromptConfig struct {
	Instruction  string
	UserPrompt   string
	SystemPrompt string
	// Params overrides the per-modality sampling defaults when set.
	Params *ai.Params
}

type Options struct {
	WorkDir string
	// MaxEncodedBytes overrides the modality's default ceiling when > 0.
	MaxEncodedBytes int64
	// Concurrency is the prefetch window; 1 fetches strictly one at a time.
	Concurrency int
}

// Result describes a finished manifest.
type Result struct {
	Path     string            `json:"path"`
	FileName string            `json:"file_name"`
	Modality filetype.Modality `json:"modality"`
	ModelID  string            `json:"model_id"`
	Family   ai.Family         `json:"family"`
	Records  int               `json:"records"`
	Skipped  int               `json:"skipped"`
	Skips    []Skip            `json:"skips,omitempty"`
	Bytes    int64             `json:"bytes"`
	Digest   string            `json:"digest"` // blake2b-256 of the file, hex
}

// Builder turns source objects of one modality into a JSONL manifest.
type Builder struct {
	src      Source
	modality filetype.Modality
	detector *filetype.Detector
	opts     Options

	now   func() time.Time
	token func() string
}

func New(src Source, m filetype.Modality, opts Options) *Builder {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Builder{
		src:      src,
		modality: m,
		detector: filetype.New(),
		opts:     opts,
		now:      time.Now,
		token:    func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

func NewText(src Source, opts Options) *Builder  { return New(src, filetype.Text, opts) }
func NewImage(src Source, opts Options) *Builder { return New(src, filetype.Image, opts) }
func NewVideo(src Source, opts Options) *Builder { return New(src, filetype.Video, opts) }

func (b *Builder) Modality() filetype.Modality { return b.modality }

func (b *Builder) maxEncoded() int64 {
	if b.opts.MaxEncodedBytes > 0 {
		return b.opts.MaxEncodedBytes
	}
	if b.modality == filetype.Image {
		return DefaultImageMaxEncodedBytes
	}
	return DefaultMaxEncodedBytes
}

// encodedLen is the base64 length of n raw bytes; text is sent as-is.
func (b *Builder) encodedLen(n int64) int64 {
	if b.modality == filetype.Text {
		return n
	}
	return int64(base64.StdEncoding.EncodedLen(int(n)))
}

// prepared is the outcome of fetching and encoding one object.
type prepared struct {
	input ai.ModelInput
	err   error
}

// Build lists bucket/prefix, keeps objects matching the modality, and streams
// one record per object into a new manifest under WorkDir. Per-object failures
// are skipped and reported through sink; the file is removed on any fatal error.
func (b *Builder) Build(ctx context.Context, bucket, prefix string, prompt PromptConfig, modelID string, sink Sink) (res *Result, err error) {
	start := time.Now()
	defer func() { metrics.IncBuild(string(b.modality), metrics.Result(err)) }()

	fam, err := ai.CheckModality(modelID, b.modality)
	if err != nil {
		return nil, err
	}
	params := b.params(fam, prompt)

	prefix = storage.NormalizePrefix(prefix)
	listed, err := b.src.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	var objs []storage.SourceObject
	for _, o := range listed {
		if filetype.Eligible(b.modality, o.Key) {
			objs = append(objs, o)
		}
	}
	total := len(objs)
	sink.emit(PhaseScan, total, len(listed), fmt.Sprintf("found %d %s files", total, b.modality))
	log.Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Str("modality", string(b.modality)).
		Int("listed", len(listed)).
		Int("eligible", total).
		Msg("scanned source objects")
	if total == 0 {
		return nil, &EmptyInputError{Bucket: bucket, Prefix: prefix, Modality: b.modality, Listed: len(listed)}
	}

	token := b.token()
	stamp := b.now().Unix()
	name := fmt.Sprintf("batch-%s-%d-%s.jsonl", b.modality, stamp, token)
	path := filepath.Join(b.opts.WorkDir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	digest, _ := blake2b.New256(nil)
	w := bufio.NewWriter(io.MultiWriter(f, digest))
	res = &Result{Path: path, FileName: name, Modality: b.modality, ModelID: modelID, Family: fam}

	for lo := 0; lo < total; lo += b.opts.Concurrency {
		hi := min(lo+b.opts.Concurrency, total)
		window, err := b.prefetch(ctx, objs[lo:hi], fam, prompt, params)
		if err != nil {
			return nil, err
		}
		for j, p := range window {
			i := lo + j
			obj := objs[i]
			sink.emit(PhaseProcess, i+1, total, fmt.Sprintf("%s (%s)", obj.Name, filetype.FormatSize(obj.Size)))
			if p.err != nil {
				b.skip(res, sink, obj, i, total, p.err)
				continue
			}
			rec := ai.Record{RecordID: fmt.Sprintf("%d_%d_%s", stamp, i, token), ModelInput: p.input}
			if err := writeLine(w, rec); err != nil {
				if isEncodeErr(err) {
					b.skip(res, sink, obj, i, total, err)
					continue
				}
				return nil, fmt.Errorf("write manifest: %w", err)
			}
			res.Records++
			metrics.IncRecord(string(b.modality), "written")
			log.Debug().Str("key", obj.Key).Str("record_id", rec.RecordID).Int("index", i+1).Int("total", total).Msg("record written")
		}
	}

	if err = w.Flush(); err != nil {
		return nil, fmt.Errorf("flush manifest: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("close manifest: %w", err)
	}
	if res.Records == 0 {
		err = &EmptyInputError{Bucket: bucket, Prefix: prefix, Modality: b.modality, Listed: len(listed), Skipped: res.Skipped}
		return nil, err
	}
	if st, statErr := os.Stat(path); statErr == nil {
		res.Bytes = st.Size()
	}
	res.Digest = hex.EncodeToString(digest.Sum(nil))

	sink.emit(PhaseGenerate, res.Records, total,
		fmt.Sprintf("manifest %s: %d records, %d skipped", name, res.Records, res.Skipped))
	log.Info().
		Str("path", path).
		Str("model_id", modelID).
		Int("records", res.Records).
		Int("skipped", res.Skipped).
		Dur("elapsed", time.Since(start)).
		Msg("manifest built")
	return res, nil
}

// Assemble fetches obj and returns the modelInput a build would write for it.
// No manifest file is touched.
func (b *Builder) Assemble(ctx context.Context, obj storage.SourceObject, prompt PromptConfig, modelID string) (ai.ModelInput, error) {
	fam, err := ai.CheckModality(modelID, b.modality)
	if err != nil {
		return ai.ModelInput{}, err
	}
	p := b.prepare(ctx, obj, fam, prompt, b.params(fam, prompt))
	return p.input, p.err
}

func (b *Builder) params(fam ai.Family, prompt PromptConfig) ai.Params {
	if prompt.Params != nil {
		return *prompt.Params
	}
	return ai.DefaultParams(b.modality, fam)
}

func (b *Builder) skip(res *Result, sink Sink, obj storage.SourceObject, i, total int, cause error) {
	res.Skipped++
	res.Skips = append(res.Skips, Skip{Key: obj.Key, Reason: cause.Error()})
	metrics.IncRecord(string(b.modality), "skipped")
	sink.emit(PhaseError, i+1, total, fmt.Sprintf("skipped %s: %v", obj.Name, cause))
	log.Warn().Err(cause).Str("key", obj.Key).Int("index", i+1).Msg("skipping source object")
}

// prefetch fetches and encodes a window of objects concurrently. Results keep
// the window's order; only context cancellation fails the whole window.
func (b *Builder) prefetch(ctx context.Context, objs []storage.SourceObject, fam ai.Family, prompt PromptConfig, params ai.Params) ([]prepared, error) {
	out := make([]prepared, len(objs))
	if len(objs) == 1 {
		out[0] = b.prepare(ctx, objs[0], fam, prompt, params)
		return out, ctx.Err()
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range objs {
		g.Go(func() error {
			out[i] = b.prepare(gctx, objs[i], fam, prompt, params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

func (b *Builder) prepare(ctx context.Context, obj storage.SourceObject, fam ai.Family, prompt PromptConfig, params ai.Params) prepared {
	limit := b.maxEncoded()
	if enc := b.encodedLen(obj.Size); enc > limit {
		return prepared{err: &OversizeError{Key: obj.Key, Encoded: enc, Limit: limit}}
	}
	data, err := b.src.ReadBinary(ctx, obj.Bucket, obj.Key)
	if err != nil {
		return prepared{err: err}
	}
	if enc := b.encodedLen(int64(len(data))); enc > limit {
		return prepared{err: &OversizeError{Key: obj.Key, Encoded: enc, Limit: limit}}
	}

	var in ai.ModelInput
	switch b.modality {
	case filetype.Text:
		if !utf8.Valid(data) {
			return prepared{err: fmt.Errorf("%s is not valid UTF-8 text", obj.Key)}
		}
		in, err = ai.TextInput(fam, prompt.Instruction, string(data), params)
	case filetype.Image, filetype.Video:
		media, derr := b.detector.Detect(b.modality, obj.Name, data)
		if derr != nil {
			return prepared{err: derr}
		}
		enc := base64.StdEncoding.EncodeToString(data)
		if b.modality == filetype.Image {
			in, err = ai.ImageInput(fam, media, enc, prompt.UserPrompt, prompt.SystemPrompt, params)
		} else {
			in, err = ai.VideoInput(fam, media, enc, prompt.UserPrompt, prompt.SystemPrompt, params)
		}
	default:
		err = fmt.Errorf("unsupported modality %q", b.modality)
	}
	return prepared{input: in, err: err}
}

type encodeError struct{ err error }

func (e *encodeError) Error() string { return "encode record: " + e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }

func isEncodeErr(err error) bool {
	var ee *encodeError
	return errors.As(err, &ee)
}

func writeLine(w io.Writer, rec ai.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return &encodeError{err: err}
	}
	line = append(line, '\n')
	_, err = w.Write(line)
	return err
}
