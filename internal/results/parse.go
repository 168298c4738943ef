package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/local/bedrockbatch/internal/ai"
)

// Record is one parsed output line: either a model output or a per-record error.
type Record struct {
	RecordID     string `json:"record_id"`
	OutputText   string `json:"output_text"`
	StopReason   string `json:"stop_reason,omitempty"`
	HasError     bool   `json:"has_error"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Retryable    bool   `json:"retryable,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

type outputLine struct {
	RecordID    string          `json:"recordId"`
	ModelOutput json.RawMessage `json:"modelOutput"`
	Error       json.RawMessage `json:"error"`
}

type lineError struct {
	ErrorCode    json.RawMessage `json:"errorCode"`
	ErrorMessage string          `json:"errorMessage"`
	Retryable    bool            `json:"retryable"`
}

var errNoPayload = errors.New("line has neither modelOutput nor error")

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// ParseLine decodes one output line. An error object wins over any output.
func ParseLine(line []byte) (Record, error) {
	var ol outputLine
	if err := json.Unmarshal(line, &ol); err != nil {
		return Record{}, err
	}
	rec := Record{RecordID: ol.RecordID}

	if present(ol.Error) {
		var le lineError
		if err := json.Unmarshal(ol.Error, &le); err != nil {
			// Some error payloads are a bare string.
			var msg string
			if json.Unmarshal(ol.Error, &msg) != nil {
				return Record{}, fmt.Errorf("decode error object: %w", err)
			}
			le.ErrorMessage = msg
		}
		rec.HasError = true
		rec.StopReason = "error"
		rec.ErrorCode = codeString(le.ErrorCode)
		rec.ErrorMessage = le.ErrorMessage
		rec.Retryable = le.Retryable
		rec.OutputText = fmt.Sprintf("[failed] %s: %s", rec.ErrorCode, rec.ErrorMessage)
		return rec, nil
	}

	if !present(ol.ModelOutput) {
		return Record{}, errNoPayload
	}
	out, err := ai.ParseOutput(ol.ModelOutput)
	if err != nil {
		return Record{}, err
	}
	rec.OutputText = out.Text
	rec.StopReason = out.StopReason
	rec.InputTokens = out.InputTokens
	rec.OutputTokens = out.OutputTokens
	return rec, nil
}

// codeString renders an error code that may be a JSON number or string.
func codeString(raw json.RawMessage) string {
	if !present(raw) {
		return "unknown"
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return string(raw)
}

// looksLikeRecord reports whether line decodes as an output record.
func looksLikeRecord(line []byte) bool {
	var ol outputLine
	if json.Unmarshal(line, &ol) != nil {
		return false
	}
	return ol.RecordID != "" || present(ol.ModelOutput) || present(ol.Error)
}

// Stats are the job-level counters from the provider's manifest.json.out.
type Stats struct {
	Total        int64 `json:"totalRecordCount"`
	Processed    int64 `json:"processedRecordCount"`
	Success      int64 `json:"successRecordCount"`
	Error        int64 `json:"errorRecordCount"`
	InputTokens  int64 `json:"inputTokenCount"`
	OutputTokens int64 `json:"outputTokenCount"`
}

// ParseStats decodes a manifest.json.out body.
func ParseStats(data []byte) (*Stats, error) {
	var st Stats
	if err := json.Unmarshal(bytes.TrimSpace(data), &st); err != nil {
		return nil, fmt.Errorf("decode result manifest: %w", err)
	}
	return &st, nil
}
