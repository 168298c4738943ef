package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"

    "github.com/local/bedrockbatch/internal/jobs"
)

const serviceName = "bedrockbatch"

// Options defines logger initialization parameters.
type Options struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool

    // Console receives human/JSON output; defaults to stderr so stdout stays
    // free for command results.
    Console io.Writer
    // Fields are attached to every event, e.g. the command and region.
    Fields map[string]string

    // Axiom
    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration
}

var (
    global zerolog.Logger = zerolog.Nop()
    sink   *axiomSink
)

// Init sets up the global logger: file rotation, console, optional Axiom forwarding.
func Init(opts Options) error {
    ws, err := outputs(opts)
    if err != nil { return err }

    zerolog.TimeFieldFormat = time.RFC3339
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" { lvl = zerolog.InfoLevel }

    ctx := zerolog.New(io.MultiWriter(ws...)).Level(lvl).With().Timestamp()
    for k, v := range opts.Fields {
        if v != "" { ctx = ctx.Str(k, v) }
    }
    global = ctx.Logger()
    log.Logger = global
    return nil
}

func outputs(opts Options) ([]io.Writer, error) {
    console := opts.Console
    if console == nil { console = os.Stderr }

    var ws []io.Writer
    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return nil, fmt.Errorf("create logs dir: %w", err)
        }
        ws = append(ws, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }
    if opts.Pretty {
        ws = append(ws, zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen})
    } else {
        ws = append(ws, console)
    }
    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        s, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
        } else {
            sink = s
            ws = append(ws, s)
        }
    }
    return ws, nil
}

// Close flushes events still buffered for Axiom.
func Close() {
    if sink != nil {
        sink.Close()
        sink = nil
    }
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
    return log.Logger.With().Str("component", name).Logger()
}

// ForJob returns a child logger carrying the job ARN and its short id, the
// two fields used to correlate a job across submit, monitor and results.
func ForJob(jobARN string) zerolog.Logger {
    return log.Logger.With().Str("job_arn", jobARN).Str("job_id", jobs.JobID(jobARN)).Logger()
}

// axiomSink is an io.Writer that batches zerolog JSON lines into Axiom.
// Debug and trace events stay local. A full buffer drops events.
type axiomSink struct {
    client  *axiom.Client
    dataset string
    events  chan axiom.Event
    done    chan struct{}
    wg      sync.WaitGroup
}

const (
    axiomBuffer = 1000
    axiomBatch  = 200
)

func newAxiomSink(token, orgID, dataset string, every time.Duration) (*axiomSink, error) {
    if dataset == "" { dataset = "dev_" + serviceName }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    if every <= 0 { every = 10 * time.Second }

    s := &axiomSink{client: c, dataset: dataset, events: make(chan axiom.Event, axiomBuffer), done: make(chan struct{})}
    s.wg.Add(1)
    go s.run(every)
    return s, nil
}

func (s *axiomSink) Write(p []byte) (int, error) {
    var ev map[string]interface{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]interface{}{"message": string(p), "level": "info"}
    }
    switch ev["level"] {
    case "debug", "trace":
        return len(p), nil
    }
    ev["service"] = serviceName
    if _, ok := ev[ingest.TimestampField]; !ok { ev[ingest.TimestampField] = time.Now() }
    select {
    case s.events <- axiom.Event(ev):
    default:
    }
    return len(p), nil
}

func (s *axiomSink) run(every time.Duration) {
    defer s.wg.Done()
    ticker := time.NewTicker(every)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, axiomBatch)
    for {
        select {
        case ev := <-s.events:
            batch = append(batch, ev)
            if len(batch) >= axiomBatch { batch = s.flush(batch) }
        case <-ticker.C:
            batch = s.flush(batch)
        case <-s.done:
            for {
                select {
                case ev := <-s.events:
                    batch = append(batch, ev)
                default:
                    s.flush(batch)
                    return
                }
            }
        }
    }
}

func (s *axiomSink) flush(batch []axiom.Event) []axiom.Event {
    if len(batch) == 0 { return batch }
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()
    _, _ = s.client.IngestEvents(ctx, s.dataset, batch)
    return batch[:0]
}

func (s *axiomSink) Close() {
    close(s.done)
    s.wg.Wait()
}
