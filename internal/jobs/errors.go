package jobs

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// SubmissionError wraps a rejected job creation. It is never retried here:
// most causes are configuration mistakes the caller has to fix.
type SubmissionError struct {
	JobName string
	ModelID string
	Code    string
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("submit job %s (model %s): %s: %s", e.JobName, e.ModelID, e.Code, e.Message)
	}
	return fmt.Sprintf("submit job %s (model %s): %s", e.JobName, e.ModelID, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func IsSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

func newSubmissionError(name, model string, err error) *SubmissionError {
	se := &SubmissionError{JobName: name, ModelID: model, Message: err.Error(), Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		se.Code = apiErr.ErrorCode()
		se.Message = apiErr.ErrorMessage()
	}
	return se
}

// errorMessage renders provider errors as "Code: message" for snapshots.
func errorMessage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return err.Error()
}
