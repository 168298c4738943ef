// Package store persists the minimal context needed to reconnect to a
// submitted job after a restart.
package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "time"
)

// DefaultRecent is the Recent size when n <= 0.
const DefaultRecent = 10

// Entry is one registered job. It never holds live clients.
type Entry struct {
    JobARN         string    `json:"job_arn"`
    JobName        string    `json:"job_name,omitempty"`
    ModelID        string    `json:"model_id,omitempty"`
    OutputBucket   string    `json:"output_bucket"`
    OutputPrefix   string    `json:"output_prefix"`
    Region         string    `json:"aws_region"`
    InputBucket    string    `json:"input_bucket"`
    InputPrefix    string    `json:"input_prefix"`
    Modality       string    `json:"modality"`
    ManifestURI    string    `json:"manifest_uri,omitempty"`
    ManifestDigest string    `json:"manifest_digest,omitempty"`
    Timestamp      time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts timestamps without a zone, as older registry files
// wrote them, besides RFC 3339.
func (e *Entry) UnmarshalJSON(data []byte) error {
    type plain Entry
    aux := struct {
        *plain
        Timestamp *string `json:"timestamp"`
    }{plain: (*plain)(e)}
    if err := json.Unmarshal(data, &aux); err != nil { return err }
    e.Timestamp = time.Time{}
    if aux.Timestamp == nil || *aux.Timestamp == "" { return nil }
    t, err := ParseTimestamp(*aux.Timestamp)
    if err != nil { return err }
    e.Timestamp = t
    return nil
}

// ParseTimestamp reads RFC 3339, falling back to a zoneless
// "2006-01-02T15:04:05[.ffffff]" taken as local time.
func ParseTimestamp(s string) (time.Time, error) {
    if t, err := time.Parse(time.RFC3339Nano, s); err == nil { return t, nil }
    t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
    if err != nil { return time.Time{}, fmt.Errorf("registry timestamp %q: %w", s, err) }
    return t, nil
}

// Registry maps job handles to their Entry.
type Registry interface {
    Save(ctx context.Context, e Entry) error
    Get(ctx context.Context, jobARN string) (Entry, bool, error)
    // Latest returns the entry with the newest Timestamp.
    Latest(ctx context.Context) (Entry, bool, error)
    // Recent returns up to n entries, newest first.
    Recent(ctx context.Context, n int) ([]Entry, error)
    Close() error
}

var ErrNoJobARN = errors.New("registry entry has no job_arn")

func newestFirst(entries []Entry) {
    sort.SliceStable(entries, func(i, j int) bool {
        if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
            return entries[i].Timestamp.After(entries[j].Timestamp)
        }
        return entries[i].JobARN < entries[j].JobARN
    })
}

func limit(n int) int {
    if n <= 0 {
        return DefaultRecent
    }
    return n
}
