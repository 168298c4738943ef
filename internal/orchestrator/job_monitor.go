package orchestrator

import (
	"context"
	"time"

	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/logger"
	"github.com/local/bedrockbatch/internal/results"
	"github.com/local/bedrockbatch/internal/store"
)

// Monitor polls a job to a terminal status.
type Monitor interface {
	Monitor(ctx context.Context, jobARN string, opts jobs.MonitorOptions) (jobs.Snapshot, error)
}

// Resolver previews a completed job's output.
type Resolver interface {
	Resolve(ctx context.Context, jobARN string, opts results.Options) (*results.Result, error)
}

// PreviewLines picks the preview cap for a modality. Video records are large,
// so they get their own, usually smaller, cap.
func PreviewLines(m filetype.Modality, def, video int) int {
	if m == filetype.Video && video > 0 {
		return video
	}
	return def
}

type FollowOptions struct {
	Poll              jobs.MonitorOptions
	Results           results.Options
	VideoPreviewLines int
}

// Followed is the end state of a watched job. Results is set only when the
// job completed.
type Followed struct {
	Snapshot jobs.Snapshot   `json:"snapshot"`
	Results  *results.Result `json:"results,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`
}

// Follow waits for e's job to finish and, when it completed, resolves its
// results. Cancelling ctx stops the wait and returns the last snapshot with
// ctx's error.
func Follow(ctx context.Context, mon Monitor, res Resolver, e store.Entry, opts FollowOptions) (*Followed, error) {
	l := logger.ForJob(e.JobARN)
	start := time.Now()
	snap, err := mon.Monitor(ctx, e.JobARN, opts.Poll)
	out := &Followed{Snapshot: snap, Elapsed: time.Since(start)}
	if err != nil {
		return out, err
	}
	if snap.Status != jobs.StatusCompleted {
		l.Warn().
			Str("status", string(snap.Status)).
			Str("message", snap.Message).
			Msg("job finished without results")
		return out, nil
	}

	ropts := opts.Results
	ropts.PreviewLines = PreviewLines(filetype.Modality(e.Modality), ropts.PreviewLines, opts.VideoPreviewLines)
	r, err := res.Resolve(ctx, e.JobARN, ropts)
	if err != nil {
		return out, err
	}
	out.Results = r
	l.Info().
		Dur("elapsed", out.Elapsed).
		Int("records", len(r.Records)).
		Msg("job followed to results")
	return out, nil
}
