package storage

import (
	"context"
	"errors"
	"fmt"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// AccessError means the store was unreachable or refused the request.
type AccessError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *AccessError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s s3://%s/%s: access error: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s s3://%s: access error: %v", e.Op, e.Bucket, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// NotFoundError means the addressed object does not exist.
type NotFoundError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object not found: s3://%s/%s", e.Bucket, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func IsAccess(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// classify maps an SDK error onto the gateway taxonomy. Context errors are
// returned untouched so callers can tell cancellation apart.
func classify(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return &NotFoundError{Bucket: bucket, Key: key, Err: err}
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) && key != "" {
		return &NotFoundError{Bucket: bucket, Key: key, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey":
			return &NotFoundError{Bucket: bucket, Key: key, Err: err}
		case "NotFound":
			if key != "" {
				return &NotFoundError{Bucket: bucket, Key: key, Err: err}
			}
		}
	}
	return &AccessError{Op: op, Bucket: bucket, Key: key, Err: err}
}
