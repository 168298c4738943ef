package orchestrator

import (
    "context"
    "sync"

    "github.com/local/bedrockbatch/internal/store"
)

// Session holds the one job a caller is currently working with between a
// submit and later status or result calls.
type Session struct {
    mu     sync.RWMutex
    active *store.Entry
}

func NewSession() *Session { return &Session{} }

func (s *Session) SetActive(e store.Entry) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.active = &e
}

// Active returns the current job, if any.
func (s *Session) Active() (store.Entry, bool) {
    s.mu.RLock()
    defer s.mu.RUnlock()
    if s.active == nil { return store.Entry{}, false }
    return *s.active, true
}

func (s *Session) Clear() {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.active = nil
}

// Restore activates the registry's most recent entry. It reports whether one
// was found; the session is left untouched otherwise.
func (s *Session) Restore(ctx context.Context, reg store.Registry) (store.Entry, bool, error) {
    e, ok, err := reg.Latest(ctx)
    if err != nil || !ok { return store.Entry{}, false, err }
    s.SetActive(e)
    return e, true, nil
}

// Resolve picks the job a command should act on: jobARN when given, else the
// active job. A registry hit for jobARN becomes the active job.
func (s *Session) Resolve(ctx context.Context, reg store.Registry, jobARN string) (store.Entry, bool, error) {
    if jobARN == "" {
        if e, ok := s.Active(); ok { return e, true, nil }
        if reg == nil { return store.Entry{}, false, nil }
        return s.Restore(ctx, reg)
    }
    if reg != nil {
        e, ok, err := reg.Get(ctx, jobARN)
        if err != nil { return store.Entry{}, false, err }
        if ok {
            s.SetActive(e)
            return e, true, nil
        }
    }
    e := store.Entry{JobARN: jobARN}
    s.SetActive(e)
    return e, true, nil
}
