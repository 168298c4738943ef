package manifest

import (
	"errors"
	"fmt"

	"github.com/local/bedrockbatch/internal/filetype"
)

// EmptyInputError means a build produced no records: either nothing under the
// prefix matched the modality's extensions, or every eligible object was skipped.
type EmptyInputError struct {
	Bucket   string
	Prefix   string
	Modality filetype.Modality
	Listed   int // objects under the prefix before filtering
	Skipped  int // eligible objects that failed
}

func (e *EmptyInputError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("no %s records produced from s3://%s/%s: all %d eligible objects were skipped",
			e.Modality, e.Bucket, e.Prefix, e.Skipped)
	}
	return fmt.Sprintf("no eligible %s objects under s3://%s/%s (%d listed, accepted extensions %v)",
		e.Modality, e.Bucket, e.Prefix, e.Listed, filetype.Extensions(e.Modality))
}

func IsEmptyInput(err error) bool {
	var ee *EmptyInputError
	return errors.As(err, &ee)
}

// Skip records why one source object was left out of the manifest.
type Skip struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// OversizeError is the skip reason for payloads over the encoded ceiling.
type OversizeError struct {
	Key     string
	Encoded int64
	Limit   int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("%s: encoded payload %s exceeds limit %s",
		e.Key, filetype.FormatSize(e.Encoded), filetype.FormatSize(e.Limit))
}
