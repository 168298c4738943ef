package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/manifest"
	"github.com/local/bedrockbatch/internal/orchestrator"
)

// sourceFlags are shared by build, submit and validate.
type sourceFlags struct {
	inputBucket string
	inputPrefix string
	modelID     string
	instruction string
	userPrompt  string
	system      string
	maxTokens   int
	temperature float64
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.inputBucket, "input-bucket", "b", "", "bucket holding the source objects")
	cmd.Flags().StringVarP(&f.inputPrefix, "input-prefix", "p", "", "prefix of the source objects")
	cmd.Flags().StringVarP(&f.modelID, "model", "m", "", "model id (default BATCH_MODEL_ID)")
	cmd.Flags().StringVar(&f.instruction, "instruction", "", "instruction wrapped around each text source")
	cmd.Flags().StringVar(&f.userPrompt, "prompt", "", "user prompt sent with each image or video")
	cmd.Flags().StringVar(&f.system, "system", "", "system prompt for image and video records")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "override max tokens")
	cmd.Flags().Float64Var(&f.temperature, "temperature", 0, "override temperature")
}

func (f *sourceFlags) model() string {
	if f.modelID != "" {
		return f.modelID
	}
	return cfg.Batch.DefaultModelID
}

// prompt builds the prompt config. Sampling defaults come from the modality;
// text batches take BATCH_MAX_TOKENS and BATCH_TEMPERATURE, and explicit
// flags win over both.
func (f *sourceFlags) prompt(cmd *cobra.Command, m filetype.Modality) (manifest.PromptConfig, error) {
	pc := manifest.PromptConfig{Instruction: f.instruction, UserPrompt: f.userPrompt, SystemPrompt: f.system}
	fam, err := ai.FamilyOf(f.model())
	if err != nil {
		return pc, err
	}
	p := ai.DefaultParams(m, fam)
	if m == filetype.Text {
		p.MaxTokens = cfg.Batch.MaxTokens
		p.Temperature = cfg.Batch.Temperature
	}
	if cmd.Flags().Changed("max-tokens") {
		p.MaxTokens = f.maxTokens
	}
	if cmd.Flags().Changed("temperature") {
		p.Temperature = f.temperature
	}
	pc.Params = &p
	return pc, nil
}

func progressLogger() manifest.Sink {
	return func(ev manifest.Event) {
		l := log.Debug()
		if ev.Phase != manifest.PhaseProcess {
			l = log.Info()
		}
		if ev.Phase == manifest.PhaseError {
			l = log.Error()
		}
		l.Str("phase", string(ev.Phase)).Int("current", ev.Current).Int("total", ev.Total).Msg(ev.Message)
	}
}

var (
	submitSrc          sourceFlags
	submitOutputBucket string
	submitOutputPrefix string
	submitFiles        []string
	submitJobName      string
	submitManifest     string
	submitWait         bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <text|image|video>",
	Short: "Build a manifest, upload it and submit a batch job",
	Long: `Build a manifest from the source objects under --input-prefix, upload it next
to them and submit a batch inference job writing to --output-bucket.

With --manifest an already uploaded manifest is submitted as is.

Examples:
  batchctl submit text -b docs -p reports/ --output-bucket results --instruction "Summarize"
  batchctl submit text -b docs -p reports/ --file ./a.txt --file ./b.txt --output-bucket results
  batchctl submit image -b media -p photos/ -m us.amazon.nova-lite-v1:0 --output-bucket results --wait
  batchctl submit video --manifest s3://media/clips/batch-video-1717000000-ab12cd34.jsonl --output-bucket results`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitSrc.register(submitCmd)
	submitCmd.Flags().StringVar(&submitOutputBucket, "output-bucket", "", "bucket the job writes results to")
	submitCmd.Flags().StringVar(&submitOutputPrefix, "output-prefix", "", "prefix for job results")
	submitCmd.Flags().StringSliceVarP(&submitFiles, "file", "f", nil, "local text files to upload as the batch input")
	submitCmd.Flags().StringVar(&submitJobName, "job-name", "", "job name (generated when empty)")
	submitCmd.Flags().StringVar(&submitManifest, "manifest", "", "submit this uploaded manifest instead of building one")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "wait for the job and preview its results")
	_ = submitCmd.MarkFlagRequired("output-bucket")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := filetype.ParseModality(args[0])
	if err != nil {
		return err
	}
	if cfg.Batch.RoleARN == "" {
		return fmt.Errorf("BATCH_ROLE_ARN is not set")
	}
	pipe, err := app.Pipeline(ctx)
	if err != nil {
		return err
	}
	req := orchestrator.Request{
		InputBucket:  submitSrc.inputBucket,
		InputPrefix:  submitSrc.inputPrefix,
		OutputBucket: submitOutputBucket,
		OutputPrefix: submitOutputPrefix,
		ModelID:      submitSrc.model(),
		LocalFiles:   submitFiles,
		JobName:      submitJobName,
		Progress:     progressLogger(),
	}

	var sub *orchestrator.Submission
	if submitManifest != "" {
		sub, err = pipe.SubmitManifest(ctx, submitManifest, m, req)
	} else {
		if req.InputBucket == "" {
			return fmt.Errorf("--input-bucket is required unless --manifest is given")
		}
		req.Prompt, err = submitSrc.prompt(cmd, m)
		if err != nil {
			return err
		}
		sub, err = pipe.Run(ctx, m, req)
	}
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), sub); err != nil {
		return err
	}
	if !submitWait {
		return nil
	}
	return follow(cmd, sub.Entry)
}

var (
	buildSrc  sourceFlags
	buildKeep bool
)

var buildCmd = &cobra.Command{
	Use:   "build <text|image|video>",
	Short: "Build a manifest locally without submitting it",
	Long: `Build a manifest from the source objects under --input-prefix and print where
it was written. Useful to inspect records or skips before submitting.

Examples:
  batchctl build image -b media -p photos/ -m us.anthropic.claude-3-haiku-20240307-v1:0`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildSrc.register(buildCmd)
	buildCmd.Flags().BoolVar(&buildKeep, "keep", true, "keep the local manifest file")
	_ = buildCmd.MarkFlagRequired("input-bucket")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := filetype.ParseModality(args[0])
	if err != nil {
		return err
	}
	pc, err := buildSrc.prompt(cmd, m)
	if err != nil {
		return err
	}
	g, err := app.Gateway(ctx)
	if err != nil {
		return err
	}
	b := manifest.New(g, m, manifest.Options{
		WorkDir:         cfg.Batch.WorkDir,
		MaxEncodedBytes: int64(cfg.Batch.MaxEncodedBytes),
		Concurrency:     cfg.Batch.Concurrency,
	})
	res, err := b.Build(ctx, buildSrc.inputBucket, buildSrc.inputPrefix, pc, buildSrc.model(), progressLogger())
	if err != nil {
		return err
	}
	if !buildKeep {
		defer os.Remove(res.Path)
	}
	return printJSON(cmd.OutOrStdout(), res)
}
