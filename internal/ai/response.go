package ai

import (
	"encoding/json"
	"errors"
)

// Output is the normalized model response for either family.
type Output struct {
	Family       Family `json:"family"`
	Text         string `json:"text"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ErrUnknownOutputShape is returned when a body matches neither response schema.
var ErrUnknownOutputShape = errors.New("model output matches no known response shape")

type claudeOutput struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type novaOutput struct {
	Output *struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// ParseOutput decodes a response body. The family is decided by which
// structure is present: a top-level "output" object means Nova, a top-level
// "content" array means Claude. Anything else is ErrUnknownOutputShape.
// A missing stop reason is reported as "unknown".
func ParseOutput(raw json.RawMessage) (Output, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Output{}, err
	}

	var out Output
	switch {
	case probe["output"] != nil:
		var n novaOutput
		if err := json.Unmarshal(raw, &n); err != nil {
			return Output{}, err
		}
		if n.Output == nil {
			return Output{}, ErrUnknownOutputShape
		}
		out = Output{Family: Nova, StopReason: n.StopReason,
			InputTokens: n.Usage.InputTokens, OutputTokens: n.Usage.OutputTokens}
		if len(n.Output.Message.Content) > 0 {
			out.Text = n.Output.Message.Content[0].Text
		}
	case probe["content"] != nil:
		var c claudeOutput
		if err := json.Unmarshal(raw, &c); err != nil {
			return Output{}, err
		}
		out = Output{Family: Claude, StopReason: c.StopReason,
			InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
		for _, part := range c.Content {
			if part.Type == "" || part.Type == "text" {
				out.Text = part.Text
				break
			}
		}
	default:
		return Output{}, ErrUnknownOutputShape
	}

	if out.StopReason == "" {
		out.StopReason = "unknown"
	}
	return out, nil
}
