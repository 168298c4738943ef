package ai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bedrockbatch/internal/filetype"
)

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		id   string
		want Family
	}{
		{"us.anthropic.claude-3-5-haiku-20241022-v1:0", Claude},
		{"anthropic.claude-3-haiku-20240307-v1:0", Claude},
		{"us.amazon.nova-pro-v1:0", Nova},
		{"US.AMAZON.NOVA-LITE-V1:0", Nova},
	}
	for _, tt := range tests {
		got, err := FamilyOf(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, got, tt.id)
	}

	_, err := FamilyOf("meta.llama3-8b-instruct-v1:0")
	var uf *UnknownFamilyError
	require.ErrorAs(t, err, &uf)
}

func TestCatalogueAndModality(t *testing.T) {
	for _, m := range Catalogue(filetype.Video) {
		assert.Equal(t, Nova, m.Family, m.ID)
	}
	assert.NotEmpty(t, Catalogue(filetype.Text))
	assert.NotEmpty(t, Catalogue(filetype.Image))

	_, err := CheckModality("us.anthropic.claude-3-7-sonnet-20250219-v1:0", filetype.Video)
	require.Error(t, err)
	fam, err := CheckModality("us.amazon.nova-premier-v1:0", filetype.Video)
	require.NoError(t, err)
	assert.Equal(t, Nova, fam)
}

func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestTextInputShapes(t *testing.T) {
	in, err := TextInput(Claude, "Summarize", "hello", DefaultParams(filetype.Text, Claude))
	require.NoError(t, err)
	m := decode(t, Record{RecordID: "r1", ModelInput: in})
	assert.Equal(t, "r1", m["recordId"])
	mi := m["modelInput"].(map[string]any)
	assert.Equal(t, "bedrock-2023-05-31", mi["anthropic_version"])
	assert.EqualValues(t, 2048, mi["max_tokens"])
	content := mi["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.Equal(t, "Summarize\n\nSource text:\nhello", content["text"])
	assert.NotContains(t, mi, "top_p")

	in, err = TextInput(Nova, "", "plain", DefaultParams(filetype.Text, Nova))
	require.NoError(t, err)
	mi = decode(t, in)
	assert.Equal(t, "messages-v1", mi["schemaVersion"])
	cfg := mi["inferenceConfig"].(map[string]any)
	assert.EqualValues(t, 2048, cfg["maxTokens"])
	assert.EqualValues(t, 0.9, cfg["topP"])
	assert.NotContains(t, mi, "system")
	content = mi["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "plain", content["text"])
}

func TestImageInputShapes(t *testing.T) {
	media := filetype.MediaInfo{MIMEType: "image/png", Format: "png"}

	in, err := ImageInput(Claude, media, "QUJD", "describe", "be brief", DefaultParams(filetype.Image, Claude))
	require.NoError(t, err)
	mi := decode(t, in)
	assert.Equal(t, "be brief", mi["system"])
	assert.EqualValues(t, 100, mi["top_k"])
	parts := mi["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	src := parts[0].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/png", src["media_type"])
	assert.Equal(t, "QUJD", src["data"])

	in, err = ImageInput(Nova, media, "QUJD", "describe", "", DefaultParams(filetype.Image, Nova))
	require.NoError(t, err)
	mi = decode(t, in)
	assert.NotContains(t, mi, "system")
	parts = mi["messages"].([]any)[0].(map[string]any)["content"].([]any)
	img := parts[0].(map[string]any)["image"].(map[string]any)
	assert.Equal(t, "png", img["format"])
	assert.Equal(t, "QUJD", img["source"].(map[string]any)["bytes"])
}

func TestVideoInputRequiresNovaAndSystem(t *testing.T) {
	media := filetype.MediaInfo{MIMEType: "video/mp4", Format: "mp4"}
	_, err := VideoInput(Claude, media, "AA==", "what happens", "", DefaultParams(filetype.Video, Claude))
	require.Error(t, err)

	in, err := VideoInput(Nova, media, "AA==", "what happens", "", DefaultParams(filetype.Video, Nova))
	require.NoError(t, err)
	mi := decode(t, in)
	sys := mi["system"].([]any)
	require.Len(t, sys, 1)
	assert.Equal(t, DefaultVideoSystem, sys[0].(map[string]any)["text"])
	cfg := mi["inferenceConfig"].(map[string]any)
	assert.EqualValues(t, 20, cfg["topK"])
	assert.EqualValues(t, 0.3, cfg["temperature"])
}

func TestModelInputMarshalRejectsEmpty(t *testing.T) {
	_, err := json.Marshal(ModelInput{Family: Claude})
	require.Error(t, err)
	_, err = json.Marshal(ModelInput{})
	require.Error(t, err)
}

func TestInputShape(t *testing.T) {
	fam, ok, err := InputShape(json.RawMessage(`{"schemaVersion":"messages-v1","inferenceConfig":{},"messages":[]}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Nova, fam)

	fam, ok, err = InputShape(json.RawMessage(`{"anthropic_version":"x","max_tokens":1}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Claude, fam)

	_, ok, err = InputShape(json.RawMessage(`{"prompt":"hi"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = InputShape(json.RawMessage(`[1]`))
	require.Error(t, err)
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput(json.RawMessage(`{"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`))
	require.NoError(t, err)
	assert.Equal(t, Claude, out.Family)
	assert.Equal(t, "hi", out.Text)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 5, out.InputTokens)
	assert.Equal(t, 2, out.OutputTokens)

	out, err = ParseOutput(json.RawMessage(`{"output":{"message":{"role":"assistant","content":[{"text":"yo"}]}},"stopReason":"max_tokens","usage":{"inputTokens":7,"outputTokens":3}}`))
	require.NoError(t, err)
	assert.Equal(t, Nova, out.Family)
	assert.Equal(t, "yo", out.Text)
	assert.Equal(t, "max_tokens", out.StopReason)
	assert.Equal(t, 7, out.InputTokens)

	out, err = ParseOutput(json.RawMessage(`{"content":[{"type":"text","text":"x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", out.StopReason)

	_, err = ParseOutput(json.RawMessage(`{"completion":"legacy"}`))
	assert.ErrorIs(t, err, ErrUnknownOutputShape)
}

type fakeRuntime struct {
	body  []byte
	err   error
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockInvoker(t *testing.T) {
	rt := &fakeRuntime{body: []byte(`{"content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)}
	inv := NewInvoker(rt)
	assert.Equal(t, "bedrock", inv.Name())

	resp, err := inv.Do(context.Background(), Request{ModelID: "m", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, "m", aws.ToString(rt.input.ModelId))
	assert.Equal(t, "application/json", aws.ToString(rt.input.ContentType))

	rt.err = &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}
	_, err = inv.Do(context.Background(), Request{ModelID: "m"})
	assert.True(t, IsThrottled(err))

	rt.err = &smithy.GenericAPIError{Code: "ValidationException", Message: "bad body"}
	_, err = inv.Do(context.Background(), Request{ModelID: "m"})
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "bad body")
}
