package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/manifest"
	"github.com/local/bedrockbatch/internal/storage"
	"github.com/local/bedrockbatch/internal/storage/storagetest"
)

const (
	claudeModel = "us.anthropic.claude-3-5-haiku-20241022-v1:0"
	novaModel   = "us.amazon.nova-lite-v1:0"

	claudeRecord = `{"recordId":"1_0_ab","modelInput":{"anthropic_version":"bedrock-2023-05-31","max_tokens":2048,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}],"temperature":0.1}}`
	novaRecord   = `{"recordId":"1_0_ab","modelInput":{"schemaVersion":"messages-v1","messages":[{"role":"user","content":[{"text":"hi"}]}],"inferenceConfig":{"maxTokens":2048,"temperature":0.1}}}`
)

type fakeClient struct {
	calls []ai.Request
	resp  ai.Response
	err   error
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Do(_ context.Context, req ai.Request) (ai.Response, error) {
	f.calls = append(f.calls, req)
	return f.resp, f.err
}

func okResponse() ai.Response {
	return ai.Response{
		Output:  ai.Output{Text: "looks fine", StopReason: "end_turn", InputTokens: 12, OutputTokens: 3},
		Latency: 250 * time.Millisecond,
	}
}

func newValidator(fake *storagetest.FakeS3, client ai.Client) *Validator {
	return New(client, storage.NewWithClient(fake, nil), Options{})
}

func TestValidateManifestFirstRecord(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("in", "manifests/batch.jsonl", "\n"+claudeRecord+"\n"+novaRecord+"\n")
	client := &fakeClient{resp: okResponse()}

	out, err := newValidator(fake, client).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/manifests/batch.jsonl"}, manifest.PromptConfig{}, claudeModel)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "1_0_ab", out.RecordID)
	assert.Equal(t, "looks fine", out.OutputText)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 12, out.InputTokens)
	assert.Equal(t, 3, out.OutputTokens)
	assert.Equal(t, 250*time.Millisecond, out.Duration)
	assert.Equal(t, ai.Claude, out.Family)

	require.Len(t, client.calls, 1)
	assert.Equal(t, claudeModel, client.calls[0].ModelID)
	var line struct {
		ModelInput json.RawMessage `json:"modelInput"`
	}
	require.NoError(t, json.Unmarshal([]byte(claudeRecord), &line))
	assert.JSONEq(t, string(line.ModelInput), string(client.calls[0].Body))
}

func TestValidateManifestSchemaMismatch(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("in", "m.jsonl", novaRecord+"\n")
	client := &fakeClient{resp: okResponse()}

	_, err := newValidator(fake, client).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/m.jsonl"}, manifest.PromptConfig{}, claudeModel)
	require.Error(t, err)
	assert.True(t, IsSchemaMismatch(err))

	var mm *SchemaMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, ai.Nova, mm.Found)
	assert.Equal(t, ai.Claude, mm.Expected)
	assert.Contains(t, err.Error(), "rebuild the manifest")
	assert.Empty(t, client.calls, "no call may be made for a mismatched manifest")
}

func TestValidateManifestUnrecognizedSchema(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("in", "m.jsonl", `{"recordId":"x","modelInput":{"prompt":"hi"}}`+"\n")

	_, err := newValidator(fake, &fakeClient{}).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/m.jsonl"}, manifest.PromptConfig{}, novaModel)
	var mm *SchemaMismatchError
	require.ErrorAs(t, err, &mm)
	assert.Contains(t, mm.Error(), "unrecognized")
}

func TestValidateManifestMissing(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("in", "other", "x")

	_, err := newValidator(fake, &fakeClient{}).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/m.jsonl"}, manifest.PromptConfig{}, novaModel)
	assert.True(t, storage.IsNotFound(err))
}

func TestValidateSampleText(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("src", "docs/a.txt", "alpha")
	fake.PutString("src", "docs/b.txt", "bravo")
	fake.PutString("src", "docs/c.png", "not text")
	client := &fakeClient{resp: okResponse()}

	v := newValidator(fake, client)
	v.pick = func(n int) int {
		require.Equal(t, 2, n)
		return 1
	}
	out, err := v.ValidateOne(context.Background(),
		Source{Mode: ModeSample, Bucket: "src", Prefix: "/docs", Modality: filetype.Text},
		manifest.PromptConfig{Instruction: "Summarize"}, novaModel)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "docs/b.txt", out.Key)
	assert.Equal(t, "b.txt (5B)", out.FileInfo)

	require.Len(t, client.calls, 1)
	fam, ok, err := ai.InputShape(client.calls[0].Body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ai.Nova, fam)
	assert.Contains(t, string(client.calls[0].Body), `Summarize\n\nSource text:\nbravo`)
}

func TestValidateSampleEmptyPrefix(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("src", "docs/readme.md", "x")

	_, err := newValidator(fake, &fakeClient{}).ValidateOne(context.Background(),
		Source{Mode: ModeSample, Bucket: "src", Prefix: "docs", Modality: filetype.Text},
		manifest.PromptConfig{}, claudeModel)
	assert.True(t, manifest.IsEmptyInput(err))
}

func TestValidateSampleVideoNeedsNova(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("src", "v/clip.mp4", "fake video bytes")
	client := &fakeClient{resp: okResponse()}

	_, err := newValidator(fake, client).ValidateOne(context.Background(),
		Source{Mode: ModeSample, Bucket: "src", Prefix: "v", Modality: filetype.Video},
		manifest.PromptConfig{UserPrompt: "describe"}, claudeModel)
	require.Error(t, err)
	assert.Empty(t, client.calls)
}

func TestValidateCallFailureIsReported(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("in", "m.jsonl", claudeRecord+"\n")
	client := &fakeClient{err: fmt.Errorf("%w: slow down", ai.ErrThrottled), resp: ai.Response{Latency: time.Second}}

	out, err := newValidator(fake, client).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/m.jsonl"}, manifest.PromptConfig{}, claudeModel)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Failure, "throttled")
	assert.Equal(t, time.Second, out.Duration)
}

func TestValidateInputPreviewTruncated(t *testing.T) {
	fake := storagetest.New()
	fake.PutString("src", "t/long.txt", strings.Repeat("word ", 400))

	out, err := newValidator(fake, &fakeClient{resp: okResponse()}).ValidateOne(context.Background(),
		Source{Mode: ModeSample, Bucket: "src", Prefix: "t", Modality: filetype.Text},
		manifest.PromptConfig{}, claudeModel)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.InputPreview, "..."))
	assert.Equal(t, 503, len([]rune(out.InputPreview)))
}

func TestValidateUnknownModel(t *testing.T) {
	_, err := newValidator(storagetest.New(), &fakeClient{}).ValidateOne(context.Background(),
		Source{Mode: ModeManifest, ManifestURI: "s3://in/m.jsonl"}, manifest.PromptConfig{}, "meta.llama3-8b-instruct-v1:0")
	var uf *ai.UnknownFamilyError
	assert.ErrorAs(t, err, &uf)
}

type fakeIdentity struct{ err error }

func (f fakeIdentity) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sts.GetCallerIdentityOutput{Arn: aws.String("arn:aws:iam::123456789012:user/ops")}, nil
}

func TestCheckConfiguration(t *testing.T) {
	good := Settings{
		RoleARN:      "arn:aws:iam::123456789012:role/BedrockBatch",
		InputBucket:  "my-input",
		OutputBucket: "my.output-1",
		ModelID:      claudeModel,
	}

	r := CheckConfiguration(context.Background(), good, fakeIdentity{})
	assert.True(t, r.Valid)
	assert.Empty(t, r.Errors)
	assert.Equal(t, "arn:aws:iam::123456789012:user/ops", r.Caller)
	assert.Len(t, r.Checks, 5)

	r = CheckConfiguration(context.Background(), good, fakeIdentity{err: errors.New("no creds")})
	assert.True(t, r.Valid, "identity failure is only a warning")
	assert.Contains(t, r.Warnings, "could not determine caller identity")

	bad := Settings{RoleARN: "role/BedrockBatch", InputBucket: "UPPER", OutputBucket: "ab", ModelID: "  "}
	r = CheckConfiguration(context.Background(), bad, nil)
	assert.False(t, r.Valid)
	assert.Len(t, r.Errors, 4)
}

func TestValidBucketName(t *testing.T) {
	for name, want := range map[string]bool{
		"abc":                   true,
		"my-bucket.logs":        true,
		"ab":                    false,
		"-leading":              false,
		"trailing.":             false,
		"Has-Upper":             false,
		strings.Repeat("a", 63): true,
		strings.Repeat("a", 64): false,
	} {
		assert.Equal(t, want, ValidBucketName(name), name)
	}
}
