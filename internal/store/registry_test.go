package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(arn string, ts time.Time) Entry {
	return Entry{
		JobARN:       arn,
		OutputBucket: "out",
		OutputPrefix: "results/",
		Region:       "us-east-1",
		InputBucket:  "in",
		InputPrefix:  "docs/",
		Modality:     "text",
		Timestamp:    ts,
	}
}

func TestFileRegistryMissingFileIsEmpty(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "job_states.json"))
	ctx := context.Background()

	_, ok, err := r.Get(ctx, "arn:x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.Latest(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	recent, err := r.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestFileRegistryReadModifyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "job_states.json")
	r := NewFileRegistry(path)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Save(ctx, entry("arn:a", base)))
	require.NoError(t, r.Save(ctx, entry("arn:b", base.Add(time.Minute))))

	updated := entry("arn:a", base.Add(2*time.Minute))
	updated.ManifestDigest = "abc123"
	require.NoError(t, r.Save(ctx, updated))

	got, ok, err := r.Get(ctx, "arn:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc123", got.ManifestDigest)
	assert.Equal(t, "docs/", got.InputPrefix)

	latest, ok, err := r.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:a", latest.JobARN)

	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "arn:b", recent[1].JobARN)

	// A second instance over the same file sees the same state.
	again, ok, err := NewFileRegistry(path).Get(ctx, "arn:b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, again.Timestamp.Equal(base.Add(time.Minute)))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".job_states.json.*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileRegistryRecentLimit(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "s.json"))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		require.NoError(t, r.Save(ctx, entry(fmt.Sprintf("arn:%02d", i), base.Add(time.Duration(i)*time.Second))))
	}

	recent, err := r.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultRecent)
	assert.Equal(t, "arn:14", recent[0].JobARN)
	assert.Equal(t, "arn:05", recent[9].JobARN)

	recent, err = r.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestFileRegistryStampsAndRejects(t *testing.T) {
	r := NewFileRegistry(filepath.Join(t.TempDir(), "s.json"))
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.ErrorIs(t, r.Save(ctx, Entry{}), ErrNoJobARN)
	require.NoError(t, r.Save(ctx, Entry{JobARN: "arn:z"}))
	got, _, err := r.Get(ctx, "arn:z")
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(fixed))
}

func TestFileRegistryLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job_states.json")
	legacy := `{"arn:old":{"output_bucket":"o","output_prefix":"p/","aws_region":"us-west-2","input_bucket":"i","input_prefix":"","timestamp":"2024-11-05T10:00:00Z"}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	got, ok, err := NewFileRegistry(path).Get(context.Background(), "arn:old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:old", got.JobARN)
	assert.Equal(t, "us-west-2", got.Region)
}

func TestFileRegistryZonelessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job_states.json")
	legacy := `{
  "arn:older": {"output_bucket":"o","output_prefix":"p/","aws_region":"us-east-1","input_bucket":"i","input_prefix":"","timestamp":"2025-06-01T10:20:30"},
  "arn:newer": {"output_bucket":"o","output_prefix":"p/","aws_region":"us-east-1","input_bucket":"i","input_prefix":"","timestamp":"2025-06-01T10:20:30.123456"}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))
	r := NewFileRegistry(path)
	ctx := context.Background()

	latest, ok, err := r.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:newer", latest.JobARN)
	want := time.Date(2025, 6, 1, 10, 20, 30, 123456000, time.Local)
	assert.True(t, latest.Timestamp.Equal(want), "got %s", latest.Timestamp)

	got, ok, err := r.Get(ctx, "arn:older")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2025, got.Timestamp.Year())

	require.NoError(t, r.Save(ctx, entry("arn:fresh", time.Now())))
	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "arn:fresh", recent[0].JobARN)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-11-05T10:00:00Z")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)))

	ts, err = ParseTimestamp("2024-11-05T10:00:00")
	require.NoError(t, err)
	assert.Equal(t, 10, ts.Hour())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestFileRegistryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job_states.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	r := NewFileRegistry(path)

	_, _, err := r.Get(context.Background(), "arn:a")
	require.Error(t, err)
	require.Error(t, r.Save(context.Background(), entry("arn:a", time.Now())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "a corrupt registry is never overwritten")
}

func TestRedisRegistry(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ns := "test:" + uuid.NewString()
	r, err := NewRedisRegistry(url, ns)
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()
	t.Cleanup(func() {
		keys, _ := r.client.Keys(ctx, ns+":*").Result()
		if len(keys) > 0 {
			r.client.Del(ctx, keys...)
		}
	})

	require.NoError(t, r.Ping(ctx))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, entry("arn:a", base)))
	require.NoError(t, r.Save(ctx, entry("arn:b", base.Add(time.Minute))))

	got, ok, err := r.Get(ctx, "arn:a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "results/", got.OutputPrefix)
	assert.True(t, got.Timestamp.Equal(base))

	latest, ok, err := r.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "arn:b", latest.JobARN)

	recent, err := r.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "arn:a", recent[1].JobARN)

	_, ok, err = r.Get(ctx, "arn:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
