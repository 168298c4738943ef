package orchestrator

import (
    "os"
    "path/filepath"
    "strings"
    "time"
)

// CleanupManifests removes local manifests left in dir by interrupted runs
// once they are older than maxAge. It only touches batch-*.jsonl files and
// returns how many it removed.
func CleanupManifests(dir string, maxAge time.Duration) int {
    if dir == "" { dir = os.TempDir() }
    entries, err := os.ReadDir(dir)
    if err != nil { return 0 }
    now := time.Now()
    removed := 0
    for _, de := range entries {
        name := de.Name()
        if de.IsDir() || !strings.HasPrefix(name, "batch-") || !strings.HasSuffix(name, ".jsonl") {
            continue
        }
        info, err := de.Info()
        if err != nil { continue }
        if now.Sub(info.ModTime()) >= maxAge {
            if os.Remove(filepath.Join(dir, name)) == nil { removed++ }
        }
    }
    return removed
}
