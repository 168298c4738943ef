package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/bedrockbatch/internal/config"
	"github.com/local/bedrockbatch/internal/filetype"
)

func TestModelsListsVideoCapableOnly(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"models", "video"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	s := out.String()
	assert.Contains(t, s, "us.amazon.nova-pro-v1:0")
	assert.Contains(t, s, "us.amazon.nova-premier-v1:0")
	assert.NotContains(t, s, "anthropic")
}

func TestSourceFlagsPrompt(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = config.Config{Batch: config.BatchConfig{
		DefaultModelID: "us.anthropic.claude-3-5-haiku-20241022-v1:0",
		MaxTokens:      1024,
		Temperature:    0.5,
	}}

	var f sourceFlags
	cmd := &cobra.Command{Use: "x"}
	f.register(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--instruction", "Summarize", "--temperature", "0.2"}))

	pc, err := f.prompt(cmd, filetype.Text)
	require.NoError(t, err)
	assert.Equal(t, "Summarize", pc.Instruction)
	require.NotNil(t, pc.Params)
	assert.Equal(t, 1024, pc.Params.MaxTokens)
	assert.Equal(t, 0.2, pc.Params.Temperature)

	pc, err = f.prompt(cmd, filetype.Image)
	require.NoError(t, err)
	assert.Equal(t, 300, pc.Params.MaxTokens)

	f.modelID = "meta.llama3-70b-instruct-v1:0"
	_, err = f.prompt(cmd, filetype.Text)
	assert.Error(t, err)
}
