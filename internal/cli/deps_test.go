package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bedrockbatch/internal/config"
	"github.com/local/bedrockbatch/internal/jobs"
	"github.com/local/bedrockbatch/internal/storage"
	"github.com/local/bedrockbatch/internal/storage/storagetest"
	"github.com/local/bedrockbatch/internal/store"
)

const westARN = "arn:aws:bedrock:us-west-2:123456789012:model-invocation-job/west1"

// regionDeps returns deps whose clients are built offline, recording the
// regions they were asked for.
func regionDeps(t *testing.T, pinned bool) (*deps, *[]string) {
	t.Helper()
	c := config.Config{}
	c.AWS.Region = "us-east-1"
	c.AWS.S3Region = "us-east-1"
	c.Registry.Path = filepath.Join(t.TempDir(), "job_states.json")

	d := newDeps(c, pinned)
	var gatewayRegions []string
	d.newEngine = func(_ context.Context, region string) (*jobs.Engine, error) {
		return jobs.NewWithClient(nil, region), nil
	}
	d.newGateway = func(_ context.Context, opts storage.Options) (*storage.Gateway, error) {
		gatewayRegions = append(gatewayRegions, opts.Region)
		return storage.NewWithClient(storagetest.New(), nil), nil
	}

	reg, err := d.Registry()
	require.NoError(t, err)
	require.NoError(t, reg.Save(context.Background(), store.Entry{
		JobARN:       westARN,
		OutputBucket: "out-west",
		Region:       "us-west-2",
		Timestamp:    time.Now(),
	}))
	return d, &gatewayRegions
}

func TestJobClientsUseRecordedRegion(t *testing.T) {
	d, gatewayRegions := regionDeps(t, false)
	ctx := context.Background()

	e, err := d.Job(ctx, "")
	require.NoError(t, err)
	require.Equal(t, westARN, e.JobARN)

	eng, err := d.JobEngine(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", eng.Region())
	_, err = d.JobGateway(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"us-west-2"}, *gatewayRegions)

	def, err := d.Engine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", def.Region())
	again, err := d.JobEngine(ctx, e)
	require.NoError(t, err)
	assert.Same(t, eng, again)
}

func TestJobClientsRegionFlagWins(t *testing.T) {
	d, gatewayRegions := regionDeps(t, true)
	ctx := context.Background()

	e, err := d.Job(ctx, westARN)
	require.NoError(t, err)
	eng, err := d.JobEngine(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", eng.Region())
	_, err = d.JobGateway(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"us-east-1"}, *gatewayRegions)
}

func TestJobRegionFallsBackWhenUnrecorded(t *testing.T) {
	d, _ := regionDeps(t, false)
	assert.Equal(t, "us-east-1", d.JobRegion(store.Entry{JobARN: "arn:unknown"}))
}
