package store

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/rs/zerolog/log"
)

// FileRegistry keeps every entry in one JSON object keyed by job ARN. Each
// Save reads the whole file, merges one entry and replaces the file through
// a temp file rename. Writers in other processes are not coordinated; the
// last rename wins.
type FileRegistry struct {
    path string
    mu   sync.Mutex
    now  func() time.Time
}

func NewFileRegistry(path string) *FileRegistry {
    return &FileRegistry{path: path, now: time.Now}
}

func (r *FileRegistry) Path() string { return r.path }

// load returns the current entries. A missing file is an empty registry.
func (r *FileRegistry) load() (map[string]Entry, error) {
    data, err := os.ReadFile(r.path)
    if errors.Is(err, os.ErrNotExist) {
        return map[string]Entry{}, nil
    }
    if err != nil {
        return nil, fmt.Errorf("read registry %s: %w", r.path, err)
    }
    states := map[string]Entry{}
    if len(data) == 0 {
        return states, nil
    }
    if err := json.Unmarshal(data, &states); err != nil {
        return nil, fmt.Errorf("decode registry %s: %w", r.path, err)
    }
    for arn, e := range states {
        if e.JobARN == "" {
            e.JobARN = arn
            states[arn] = e
        }
    }
    return states, nil
}

func (r *FileRegistry) Save(_ context.Context, e Entry) error {
    if e.JobARN == "" {
        return ErrNoJobARN
    }
    if e.Timestamp.IsZero() {
        e.Timestamp = r.now()
    }

    r.mu.Lock()
    defer r.mu.Unlock()

    states, err := r.load()
    if err != nil {
        return err
    }
    states[e.JobARN] = e

    data, err := json.MarshalIndent(states, "", "  ")
    if err != nil {
        return err
    }
    if err := writeAtomic(r.path, data); err != nil {
        return err
    }
    log.Debug().Str("job_arn", e.JobARN).Str("path", r.path).Int("entries", len(states)).Msg("registry saved")
    return nil
}

func writeAtomic(path string, data []byte) error {
    dir := filepath.Dir(path)
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("create registry dir: %w", err)
    }
    tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
    if err != nil {
        return fmt.Errorf("create registry temp: %w", err)
    }
    name := tmp.Name()
    if _, err := tmp.Write(data); err != nil {
        tmp.Close()
        os.Remove(name)
        return fmt.Errorf("write registry: %w", err)
    }
    if err := tmp.Close(); err != nil {
        os.Remove(name)
        return fmt.Errorf("write registry: %w", err)
    }
    if err := os.Rename(name, path); err != nil {
        os.Remove(name)
        return fmt.Errorf("replace registry: %w", err)
    }
    return nil
}

func (r *FileRegistry) Get(_ context.Context, jobARN string) (Entry, bool, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    states, err := r.load()
    if err != nil {
        return Entry{}, false, err
    }
    e, ok := states[jobARN]
    return e, ok, nil
}

func (r *FileRegistry) Latest(ctx context.Context) (Entry, bool, error) {
    recent, err := r.Recent(ctx, 1)
    if err != nil || len(recent) == 0 {
        return Entry{}, false, err
    }
    return recent[0], true, nil
}

func (r *FileRegistry) Recent(_ context.Context, n int) ([]Entry, error) {
    r.mu.Lock()
    states, err := r.load()
    r.mu.Unlock()
    if err != nil {
        return nil, err
    }
    out := make([]Entry, 0, len(states))
    for _, e := range states {
        out = append(out, e)
    }
    newestFirst(out)
    if n = limit(n); len(out) > n {
        out = out[:n]
    }
    return out, nil
}

func (r *FileRegistry) Close() error { return nil }
