package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/filetype"
	"github.com/local/bedrockbatch/internal/statuscheck"
	"github.com/local/bedrockbatch/internal/validate"
)

var (
	validateSrc      sourceFlags
	validateManifest string
	validateModality string
	validateTimeout  time.Duration
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Send one record synchronously to check the model accepts it",
	Long: `Run a single inference call with the record a batch would send, before
paying for the whole batch.

With --manifest the first record of that manifest is sent; its schema must
match the model. Otherwise one eligible object under --input-prefix is
picked at random and turned into a record.

Examples:
  batchctl validate --manifest s3://docs/reports/batch-text-1717000000-ab12cd34.jsonl
  batchctl validate --modality image -b media -p photos/ -m us.amazon.nova-lite-v1:0`,
	RunE: runValidate,
}

func init() {
	validateSrc.register(validateCmd)
	validateCmd.Flags().StringVar(&validateManifest, "manifest", "", "uploaded manifest to take the first record from")
	validateCmd.Flags().StringVar(&validateModality, "modality", "text", "modality of the sampled source")
	validateCmd.Flags().DurationVar(&validateTimeout, "timeout", 2*time.Minute, "inference call timeout")
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src := validate.Source{Mode: validate.ModeManifest, ManifestURI: validateManifest}
	if validateManifest == "" {
		m, err := filetype.ParseModality(validateModality)
		if err != nil {
			return err
		}
		if validateSrc.inputBucket == "" {
			return fmt.Errorf("--input-bucket is required unless --manifest is given")
		}
		src = validate.Source{Mode: validate.ModeSample, Bucket: validateSrc.inputBucket, Prefix: validateSrc.inputPrefix, Modality: m}
	}
	pc, err := validateSrc.prompt(cmd, src.Modality)
	if err != nil {
		return err
	}
	inv, err := app.Invoker(ctx)
	if err != nil {
		return err
	}
	g, err := app.Gateway(ctx)
	if err != nil {
		return err
	}
	v := validate.New(inv, g, validate.Options{
		Timeout:         validateTimeout,
		MaxEncodedBytes: int64(cfg.Batch.MaxEncodedBytes),
	})
	out, err := v.ValidateOne(ctx, src, pc, validateSrc.model())
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("validation call failed: %s", out.Failure)
	}
	return nil
}

var (
	checkInputBucket  string
	checkOutputBucket string
	checkModel        string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and reachability of S3, Bedrock and the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		model := checkModel
		if model == "" {
			model = cfg.Batch.DefaultModelID
		}

		opts := statuscheck.Options{Buckets: []string{checkInputBucket, checkOutputBucket}}
		var identity validate.IdentityAPI
		if id, err := app.Identity(ctx); err == nil {
			identity = id
			opts.Identity = id
		}
		if g, err := app.Gateway(ctx); err == nil {
			opts.Store = g
		}
		if eng, err := app.Engine(ctx); err == nil {
			opts.Jobs = eng
		}
		if _, err := app.Registry(); err != nil {
			return err
		}
		if app.redis != nil {
			opts.Redis = app.redis
		}

		report := validate.CheckConfiguration(ctx, validate.Settings{
			RoleARN:      cfg.Batch.RoleARN,
			InputBucket:  checkInputBucket,
			OutputBucket: checkOutputBucket,
			ModelID:      model,
		}, identity)
		summary := statuscheck.New(opts).Summary(ctx)

		if err := printJSON(cmd.OutOrStdout(), struct {
			Configuration validate.Report     `json:"configuration"`
			Services      statuscheck.Summary `json:"services"`
		}{report, summary}); err != nil {
			return err
		}
		if !report.Valid || !summary.Healthy() {
			return fmt.Errorf("configuration check failed")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkInputBucket, "input-bucket", "", "input bucket to check")
	checkCmd.Flags().StringVar(&checkOutputBucket, "output-bucket", "", "output bucket to check")
	checkCmd.Flags().StringVarP(&checkModel, "model", "m", "", "model id (default BATCH_MODEL_ID)")
	_ = checkCmd.MarkFlagRequired("input-bucket")
	_ = checkCmd.MarkFlagRequired("output-bucket")
}

var modelsCmd = &cobra.Command{
	Use:   "models [text|image|video]",
	Short: "List known batch-capable models per modality",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mods := []filetype.Modality{filetype.Text, filetype.Image, filetype.Video}
		if len(args) == 1 {
			m, err := filetype.ParseModality(args[0])
			if err != nil {
				return err
			}
			mods = []filetype.Modality{m}
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODALITY\tFAMILY\tNAME\tID")
		for _, m := range mods {
			for _, model := range ai.Catalogue(m) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m, model.Family, model.Name, model.ID)
			}
		}
		return w.Flush()
	},
}
