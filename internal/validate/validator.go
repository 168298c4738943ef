// Package validate runs one record through synchronous inference before a
// batch is committed, and checks submission settings for obvious mistakes.
package validate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/manifest"
	"github.com/local/bedrockbatch/internal/storage"
)

const (
	previewChars = 500
	maxFirstLine = 64 << 20
)

type Mode string

const (
	// ModeManifest reuses the first record of an existing manifest.
	ModeManifest Mode = "manifest"
	// ModeSample assembles a record from one randomly picked source object.
	ModeSample Mode = "sample"
)

// Source selects the candidate record.
type Source struct {
	Mode Mode
	// ManifestURI is read in ModeManifest.
	ManifestURI string
	// Bucket, Prefix and Modality drive ModeSample.
	Bucket   string
	Prefix   string
	Modality filetype.Modality
}

// Store is what the validator needs from the object store.
type Store interface {
	manifest.Source
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type Options struct {
	// Timeout bounds the inference call; zero means the caller's context only.
	Timeout time.Duration
	// MaxEncodedBytes is passed to the record assembly in ModeSample.
	MaxEncodedBytes int64
}

// Outcome reports one validation run. Success is false when the inference
// call itself failed; Failure then holds the reason.
type Outcome struct {
	Success      bool          `json:"success"`
	Failure      string        `json:"failure,omitempty"`
	Mode         Mode          `json:"mode"`
	ModelID      string        `json:"model_id"`
	Family       ai.Family     `json:"family"`
	FileInfo     string        `json:"file_info"`
	RecordID     string        `json:"record_id,omitempty"`
	Key          string        `json:"key,omitempty"`
	OutputText   string        `json:"output_text,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
	InputPreview string        `json:"input_preview"`
}

// Validator issues one synchronous inference call per ValidateOne.
type Validator struct {
	client ai.Client
	store  Store
	opts   Options
	pick   func(n int) int
}

func New(client ai.Client, store Store, opts Options) *Validator {
	return &Validator{client: client, store: store, opts: opts, pick: rand.IntN}
}

// ValidateOne assembles a single record from src and invokes modelID with it.
// Problems found before the call (unreadable manifest, schema mismatch, empty
// prefix) are returned as errors. A failed call is reported in the Outcome.
func (v *Validator) ValidateOne(ctx context.Context, src Source, prompt manifest.PromptConfig, modelID string) (*Outcome, error) {
	fam, err := ai.FamilyOf(modelID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Mode: src.Mode, ModelID: modelID, Family: fam}

	var body []byte
	switch src.Mode {
	case ModeManifest:
		body, err = v.fromManifest(ctx, src, modelID, fam, out)
	case ModeSample:
		body, err = v.fromSample(ctx, src, prompt, modelID, out)
	default:
		err = fmt.Errorf("unknown validation mode %q", src.Mode)
	}
	if err != nil {
		return nil, err
	}
	out.InputPreview = truncate(body, previewChars)

	log.Info().Str("model_id", modelID).Str("mode", string(src.Mode)).Str("file", out.FileInfo).Msg("validating single record")
	resp, err := v.client.Do(ctx, ai.Request{ModelID: modelID, Body: body, Timeout: v.opts.Timeout})
	out.Duration = resp.Latency
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		out.Failure = err.Error()
		log.Warn().Err(err).Str("model_id", modelID).Msg("validation call failed")
		return out, nil
	}

	out.Success = true
	out.OutputText = resp.Text
	out.StopReason = resp.StopReason
	out.InputTokens = resp.InputTokens
	out.OutputTokens = resp.OutputTokens
	log.Info().
		Str("model_id", modelID).
		Dur("duration", out.Duration).
		Int("tokens_in", out.InputTokens).
		Int("tokens_out", out.OutputTokens).
		Msg("validation call succeeded")
	return out, nil
}

type manifestLine struct {
	RecordID   string          `json:"recordId"`
	ModelInput json.RawMessage `json:"modelInput"`
}

func (v *Validator) fromManifest(ctx context.Context, src Source, modelID string, fam ai.Family, out *Outcome) ([]byte, error) {
	bucket, key, err := storage.ParseURI(src.ManifestURI)
	if err != nil {
		return nil, err
	}
	line, err := v.firstLine(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	var ml manifestLine
	if err := json.Unmarshal(line, &ml); err != nil {
		return nil, fmt.Errorf("first manifest record is not valid JSON: %w", err)
	}
	if len(ml.ModelInput) == 0 {
		return nil, fmt.Errorf("first manifest record has no modelInput")
	}

	found, ok, err := ai.InputShape(ml.ModelInput)
	if err != nil {
		return nil, err
	}
	if !ok || found != fam {
		mm := &SchemaMismatchError{ManifestURI: src.ManifestURI, RecordID: ml.RecordID, ModelID: modelID, Expected: fam, Found: found}
		log.Warn().Str("manifest", src.ManifestURI).Str("model_id", modelID).Str("found", string(found)).Msg("manifest schema mismatch")
		return nil, mm
	}

	out.RecordID = ml.RecordID
	out.Key = key
	out.FileInfo = "record " + ml.RecordID
	return ml.ModelInput, nil
}

func (v *Validator) firstLine(ctx context.Context, bucket, key string) ([]byte, error) {
	body, err := v.store.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxFirstLine)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			return append([]byte(nil), line...), nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", key, err)
	}
	return nil, fmt.Errorf("manifest s3://%s/%s is empty", bucket, key)
}

func (v *Validator) fromSample(ctx context.Context, src Source, prompt manifest.PromptConfig, modelID string, out *Outcome) ([]byte, error) {
	prefix := storage.NormalizePrefix(src.Prefix)
	listed, err := v.store.List(ctx, src.Bucket, prefix)
	if err != nil {
		return nil, err
	}
	var eligible []storage.SourceObject
	for _, o := range listed {
		if filetype.Eligible(src.Modality, o.Key) {
			eligible = append(eligible, o)
		}
	}
	if len(eligible) == 0 {
		return nil, &manifest.EmptyInputError{Bucket: src.Bucket, Prefix: prefix, Modality: src.Modality, Listed: len(listed)}
	}
	obj := eligible[v.pick(len(eligible))]
	log.Debug().Str("key", obj.Key).Int("candidates", len(eligible)).Msg("picked validation sample")

	b := manifest.New(v.store, src.Modality, manifest.Options{MaxEncodedBytes: v.opts.MaxEncodedBytes})
	in, err := b.Assemble(ctx, obj, prompt, modelID)
	if err != nil {
		return nil, fmt.Errorf("assemble record for %s: %w", obj.Key, err)
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out.Key = obj.Key
	out.FileInfo = fmt.Sprintf("%s (%s)", obj.Name, filetype.FormatSize(obj.Size))
	return body, nil
}

// truncate cuts b to at most n runes, marking the cut.
func truncate(b []byte, n int) string {
	if utf8.RuneCount(b) <= n {
		return string(b)
	}
	r := []rune(string(b))
	return string(r[:n]) + "..."
}
