package results

import (
	"errors"
	"fmt"
	"strings"

	"github.com/local/bedrockbatch/internal/jobs"
)

// NotReadyError means the job has not completed successfully.
type NotReadyError struct {
	JobARN  string
	Status  jobs.Status
	Message string
}

func (e *NotReadyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("job %s is %s, results not available: %s", e.JobARN, e.Status, e.Message)
	}
	return fmt.Sprintf("job %s is %s, results not available", e.JobARN, e.Status)
}

// ResultNotFoundError carries what was searched so callers can diagnose a
// missing result file without digging through logs.
type ResultNotFoundError struct {
	JobID     string
	OutputURI string
	Bucket    string
	Prefix    string
	Keys      []string
	Reason    string
}

func (e *ResultNotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no result file for job %s under s3://%s/%s", e.JobID, e.Bucket, e.Prefix)
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	fmt.Fprintf(&b, "; output uri %q; %d keys found", e.OutputURI, len(e.Keys))
	if len(e.Keys) > 0 {
		shown := e.Keys
		if len(shown) > 10 {
			shown = shown[:10]
		}
		fmt.Fprintf(&b, ": %s", strings.Join(shown, ", "))
		if len(e.Keys) > len(shown) {
			fmt.Fprintf(&b, ", ... (+%d more)", len(e.Keys)-len(shown))
		}
	}
	return b.String()
}

func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}

func IsResultNotFound(err error) bool {
	var rn *ResultNotFoundError
	return errors.As(err, &rn)
}

// PartialParseWarning describes one skipped result line.
type PartialParseWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}
