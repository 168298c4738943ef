package store

import (
    "context"
    "fmt"
    "time"

    redis "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"
)

// RedisRegistry stores each entry as its own hash plus a sorted-set index by
// timestamp, so a Save touches only its own key.
type RedisRegistry struct {
    client *redis.Client
    keyNS  string
    now    func() time.Time
}

func NewRedisRegistry(redisURL, keyNS string) (*RedisRegistry, error) {
    opt, err := redis.ParseURL(redisURL)
    if err != nil { return nil, err }
    c := redis.NewClient(opt)
    if err := c.Ping(context.Background()).Err(); err != nil {
        c.Close()
        return nil, err
    }
    if keyNS == "" { keyNS = "bedrockbatch:jobs" }
    return &RedisRegistry{client: c, keyNS: keyNS, now: time.Now}, nil
}

func (s *RedisRegistry) key(jobARN string) string { return fmt.Sprintf("%s:%s", s.keyNS, jobARN) }
func (s *RedisRegistry) index() string            { return s.keyNS + ":index" }

func (s *RedisRegistry) Save(ctx context.Context, e Entry) error {
    if e.JobARN == "" { return ErrNoJobARN }
    if e.Timestamp.IsZero() { e.Timestamp = s.now() }

    m := map[string]interface{}{
        "job_arn":         e.JobARN,
        "job_name":        e.JobName,
        "model_id":        e.ModelID,
        "output_bucket":   e.OutputBucket,
        "output_prefix":   e.OutputPrefix,
        "aws_region":      e.Region,
        "input_bucket":    e.InputBucket,
        "input_prefix":    e.InputPrefix,
        "modality":        e.Modality,
        "manifest_uri":    e.ManifestURI,
        "manifest_digest": e.ManifestDigest,
        "timestamp":       e.Timestamp.Format(time.RFC3339Nano),
    }
    _, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
        p.HSet(ctx, s.key(e.JobARN), m)
        p.ZAdd(ctx, s.index(), redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: e.JobARN})
        return nil
    })
    if err != nil { return fmt.Errorf("save registry entry %s: %w", e.JobARN, err) }
    log.Debug().Str("job_arn", e.JobARN).Str("ns", s.keyNS).Msg("registry saved")
    return nil
}

func fromHash(res map[string]string) Entry {
    e := Entry{
        JobARN:         res["job_arn"],
        JobName:        res["job_name"],
        ModelID:        res["model_id"],
        OutputBucket:   res["output_bucket"],
        OutputPrefix:   res["output_prefix"],
        Region:         res["aws_region"],
        InputBucket:    res["input_bucket"],
        InputPrefix:    res["input_prefix"],
        Modality:       res["modality"],
        ManifestURI:    res["manifest_uri"],
        ManifestDigest: res["manifest_digest"],
    }
    if v := res["timestamp"]; v != "" {
        if t, err := ParseTimestamp(v); err == nil { e.Timestamp = t }
    }
    return e
}

func (s *RedisRegistry) Get(ctx context.Context, jobARN string) (Entry, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(jobARN)).Result()
    if err != nil { return Entry{}, false, err }
    if len(res) == 0 { return Entry{}, false, nil }
    return fromHash(res), true, nil
}

func (s *RedisRegistry) Latest(ctx context.Context) (Entry, bool, error) {
    recent, err := s.Recent(ctx, 1)
    if err != nil || len(recent) == 0 { return Entry{}, false, err }
    return recent[0], true, nil
}

func (s *RedisRegistry) Recent(ctx context.Context, n int) ([]Entry, error) {
    arns, err := s.client.ZRevRange(ctx, s.index(), 0, int64(limit(n)-1)).Result()
    if err != nil { return nil, err }
    if len(arns) == 0 { return nil, nil }

    cmds := make([]*redis.MapStringStringCmd, len(arns))
    _, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
        for i, arn := range arns {
            cmds[i] = p.HGetAll(ctx, s.key(arn))
        }
        return nil
    })
    if err != nil { return nil, err }

    out := make([]Entry, 0, len(arns))
    for _, c := range cmds {
        if res := c.Val(); len(res) > 0 {
            out = append(out, fromHash(res))
        }
    }
    return out, nil
}

// Ping reports whether the server answers.
func (s *RedisRegistry) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisRegistry) Close() error { return s.client.Close() }
