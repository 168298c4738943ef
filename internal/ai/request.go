package ai

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/local/bedrockbatch/internal/filetype"
)

const (
	anthropicVersion   = "bedrock-2023-05-31"
	novaSchemaVersion  = "messages-v1"
	DefaultVideoSystem = "You are a professional video analysis assistant."
)

// Params are the sampling settings folded into a request body.
type Params struct {
	MaxTokens   int
	Temperature float64
	TopP        *float64
	TopK        *int
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int         { return &v }

// DefaultParams returns the sampling defaults per modality and family.
func DefaultParams(m filetype.Modality, fam Family) Params {
	switch m {
	case filetype.Image:
		if fam == Claude {
			return Params{MaxTokens: 300, Temperature: 0.1, TopP: f64(0.1), TopK: intp(100)}
		}
		return Params{MaxTokens: 300, Temperature: 0.1, TopP: f64(0.9)}
	case filetype.Video:
		return Params{MaxTokens: 300, Temperature: 0.3, TopP: f64(0.1), TopK: intp(20)}
	default:
		if fam == Nova {
			return Params{MaxTokens: 2048, Temperature: 0.1, TopP: f64(0.9)}
		}
		return Params{MaxTokens: 2048, Temperature: 0.1}
	}
}

// ModelInput is a request body for exactly one family. Only the field
// matching Family is set.
type ModelInput struct {
	Family Family
	Claude *ClaudeInput
	Nova   *NovaInput
}

func (m ModelInput) MarshalJSON() ([]byte, error) {
	switch m.Family {
	case Claude:
		if m.Claude == nil {
			return nil, errors.New("claude model input is empty")
		}
		return json.Marshal(m.Claude)
	case Nova:
		if m.Nova == nil {
			return nil, errors.New("nova model input is empty")
		}
		return json.Marshal(m.Nova)
	}
	return nil, fmt.Errorf("model input has unknown family %q", m.Family)
}

type ClaudeInput struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []ClaudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
}

type ClaudeMessage struct {
	Role    string          `json:"role"`
	Content []ClaudeContent `json:"content"`
}

type ClaudeContent struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *ClaudeSource `json:"source,omitempty"`
}

type ClaudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type NovaInput struct {
	SchemaVersion   string              `json:"schemaVersion"`
	Messages        []NovaMessage       `json:"messages"`
	System          []NovaText          `json:"system,omitempty"`
	InferenceConfig NovaInferenceConfig `json:"inferenceConfig"`
}

type NovaMessage struct {
	Role    string        `json:"role"`
	Content []NovaContent `json:"content"`
}

type NovaContent struct {
	Text  string     `json:"text,omitempty"`
	Image *NovaMedia `json:"image,omitempty"`
	Video *NovaMedia `json:"video,omitempty"`
}

type NovaText struct {
	Text string `json:"text"`
}

type NovaMedia struct {
	Format string     `json:"format"`
	Source NovaSource `json:"source"`
}

type NovaSource struct {
	Bytes string `json:"bytes"`
}

type NovaInferenceConfig struct {
	MaxTokens   int      `json:"maxTokens"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"topP,omitempty"`
	TopK        *int     `json:"topK,omitempty"`
}

func novaConfig(p Params) NovaInferenceConfig {
	return NovaInferenceConfig{MaxTokens: p.MaxTokens, Temperature: p.Temperature, TopP: p.TopP, TopK: p.TopK}
}

// TextInput wraps content with instruction and builds a single user turn.
func TextInput(fam Family, instruction, content string, p Params) (ModelInput, error) {
	prompt := content
	if instruction != "" {
		prompt = instruction + "\n\nSource text:\n" + content
	}
	switch fam {
	case Claude:
		return ModelInput{Family: Claude, Claude: &ClaudeInput{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        p.MaxTokens,
			Messages: []ClaudeMessage{{
				Role:    "user",
				Content: []ClaudeContent{{Type: "text", Text: prompt}},
			}},
			Temperature: p.Temperature,
			TopP:        p.TopP,
			TopK:        p.TopK,
		}}, nil
	case Nova:
		return ModelInput{Family: Nova, Nova: &NovaInput{
			SchemaVersion: novaSchemaVersion,
			Messages: []NovaMessage{{
				Role:    "user",
				Content: []NovaContent{{Text: prompt}},
			}},
			InferenceConfig: novaConfig(p),
		}}, nil
	}
	return ModelInput{}, fmt.Errorf("unsupported family %q", fam)
}

// ImageInput builds an image + prompt turn. b64 is the base64 payload.
func ImageInput(fam Family, media filetype.MediaInfo, b64, userPrompt, system string, p Params) (ModelInput, error) {
	switch fam {
	case Claude:
		return ModelInput{Family: Claude, Claude: &ClaudeInput{
			AnthropicVersion: anthropicVersion,
			MaxTokens:        p.MaxTokens,
			System:           system,
			Messages: []ClaudeMessage{{
				Role: "user",
				Content: []ClaudeContent{
					{Type: "image", Source: &ClaudeSource{Type: "base64", MediaType: media.MIMEType, Data: b64}},
					{Type: "text", Text: userPrompt},
				},
			}},
			Temperature: p.Temperature,
			TopP:        p.TopP,
			TopK:        p.TopK,
		}}, nil
	case Nova:
		in := &NovaInput{
			SchemaVersion: novaSchemaVersion,
			Messages: []NovaMessage{{
				Role: "user",
				Content: []NovaContent{
					{Image: &NovaMedia{Format: media.Format, Source: NovaSource{Bytes: b64}}},
					{Text: userPrompt},
				},
			}},
			InferenceConfig: novaConfig(p),
		}
		if system != "" {
			in.System = []NovaText{{Text: system}}
		}
		return ModelInput{Family: Nova, Nova: in}, nil
	}
	return ModelInput{}, fmt.Errorf("unsupported family %q", fam)
}

// VideoInput builds a video + prompt turn. Only Nova accepts video and it
// requires a non-empty system block, so DefaultVideoSystem fills a blank one.
func VideoInput(fam Family, media filetype.MediaInfo, b64, userPrompt, system string, p Params) (ModelInput, error) {
	if fam != Nova {
		return ModelInput{}, fmt.Errorf("video payloads need the nova family, got %q", fam)
	}
	if system == "" {
		system = DefaultVideoSystem
	}
	return ModelInput{Family: Nova, Nova: &NovaInput{
		SchemaVersion: novaSchemaVersion,
		Messages: []NovaMessage{{
			Role: "user",
			Content: []NovaContent{
				{Video: &NovaMedia{Format: media.Format, Source: NovaSource{Bytes: b64}}},
				{Text: userPrompt},
			},
		}},
		System:          []NovaText{{Text: system}},
		InferenceConfig: novaConfig(p),
	}}, nil
}

// Record is one manifest line.
type Record struct {
	RecordID   string     `json:"recordId"`
	ModelInput ModelInput `json:"modelInput"`
}

// InputShape inspects a raw modelInput object and reports which family's
// schema it follows. ok is false when it matches neither.
func InputShape(raw json.RawMessage) (fam Family, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", false, fmt.Errorf("model input is not a JSON object: %w", err)
	}
	has := func(k string) bool { _, ok := fields[k]; return ok }
	switch {
	case has("schemaVersion") && has("inferenceConfig"):
		return Nova, true, nil
	case has("anthropic_version") && has("max_tokens"):
		return Claude, true, nil
	}
	return "", false, nil
}
