package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/ai"
	"github.com/local/bedrockbatch/internal/metrics"
)

// IdentityAPI is the STS call used to report who is submitting.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// ValidBucketName applies the basic S3 naming rules.
func ValidBucketName(name string) bool {
	return len(name) >= 3 && len(name) <= 63 && bucketName.MatchString(name)
}

// Settings are the submission parameters to check.
type Settings struct {
	RoleARN      string
	InputBucket  string
	OutputBucket string
	ModelID      string
}

type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Report is the outcome of CheckConfiguration. Valid is false when any
// error was recorded; warnings never affect it.
type Report struct {
	Valid    bool     `json:"valid"`
	Checks   []Check  `json:"checks"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Caller   string   `json:"caller,omitempty"`
}

func (r *Report) pass(name, msg string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: true, Message: msg})
}

func (r *Report) fail(name, msg string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: false, Message: msg})
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// CheckConfiguration validates settings by format only. Real S3 and Bedrock
// permissions are enforced by the provider when the job runs. identity may be
// nil; its failure is only a warning.
func CheckConfiguration(ctx context.Context, s Settings, identity IdentityAPI) Report {
	r := Report{Valid: true}

	if strings.HasPrefix(s.RoleARN, "arn:aws:iam::") {
		r.pass("role_arn", "role ARN format is valid")
	} else {
		r.fail("role_arn", fmt.Sprintf("role ARN %q must start with arn:aws:iam::", s.RoleARN))
	}

	if identity == nil {
		r.Warnings = append(r.Warnings, "caller identity not checked")
	} else {
		start := time.Now()
		out, err := identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		metrics.ObserveProvider("get_caller_identity", metrics.Result(err), time.Since(start))
		if err != nil {
			log.Warn().Err(err).Msg("caller identity lookup failed")
			r.Warnings = append(r.Warnings, "could not determine caller identity")
		} else {
			r.Caller = aws.ToString(out.Arn)
			r.pass("identity", "caller: "+r.Caller)
		}
	}

	for _, b := range []struct{ name, value string }{
		{"input_bucket", s.InputBucket},
		{"output_bucket", s.OutputBucket},
	} {
		if ValidBucketName(b.value) {
			r.pass(b.name, fmt.Sprintf("bucket name %q is valid", b.value))
		} else {
			r.fail(b.name, fmt.Sprintf("bucket name %q is invalid", b.value))
		}
	}

	if strings.TrimSpace(s.ModelID) == "" {
		r.fail("model_id", "model id is empty")
	} else if fam, err := ai.FamilyOf(s.ModelID); err != nil {
		r.fail("model_id", err.Error())
	} else {
		r.pass("model_id", fmt.Sprintf("model %s uses the %s schema", s.ModelID, fam))
	}

	r.Warnings = append(r.Warnings,
		"S3 and Bedrock permissions are verified by the provider at submission time",
		"try a small batch first to confirm the role's permissions")

	log.Info().Bool("valid", r.Valid).Int("errors", len(r.Errors)).Int("warnings", len(r.Warnings)).Msg("configuration checked")
	return r
}
