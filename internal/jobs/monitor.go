package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is used when Monitor gets a non-positive interval.
const DefaultPollInterval = 30 * time.Second

// MonitorOptions tune Monitor. OnPoll, when set, sees every snapshot.
type MonitorOptions struct {
	Interval time.Duration
	// MaxErrors stops monitoring after that many consecutive failed queries;
	// zero keeps polling until ctx ends.
	MaxErrors int
	OnPoll    func(Snapshot)
}

// Monitor polls until the job reaches a terminal status and returns that
// snapshot. Failed queries are logged and polled again. When ctx ends, the
// last snapshot is returned with ctx's error.
func (e *Engine) Monitor(ctx context.Context, jobARN string, opts MonitorOptions) (Snapshot, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	log.Info().
		Str("job_arn", jobARN).
		Dur("interval", interval).
		Msg("started job monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last   Snapshot
		errRun int
	)
	for {
		last = e.GetStatus(ctx, jobARN)
		if opts.OnPoll != nil {
			opts.OnPoll(last)
		}

		switch {
		case last.Status.Terminal():
			log.Info().
				Str("job_arn", jobARN).
				Str("status", string(last.Status)).
				Str("output_uri", last.OutputURI).
				Msg("job reached terminal status")
			return last, nil
		case last.Status == StatusError:
			errRun++
			if opts.MaxErrors > 0 && errRun >= opts.MaxErrors {
				log.Warn().Str("job_arn", jobARN).Int("errors", errRun).Msg("giving up on job monitor")
				return last, nil
			}
		default:
			errRun = 0
		}

		select {
		case <-ctx.Done():
			log.Info().Str("job_arn", jobARN).Msg("job monitor cancelled")
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
