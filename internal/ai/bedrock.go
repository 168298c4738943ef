package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/metrics"
)

// RuntimeAPI is the InvokeModel call, kept narrow for fakes.
type RuntimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockInvoker runs single records through the runtime API.
type BedrockInvoker struct {
	client RuntimeAPI
}

// NewBedrockInvoker builds an invoker from the default credential chain.
func NewBedrockInvoker(ctx context.Context, region string) (*BedrockInvoker, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewInvoker(bedrockruntime.NewFromConfig(cfg)), nil
}

func NewInvoker(client RuntimeAPI) *BedrockInvoker {
	return &BedrockInvoker{client: client}
}

func (b *BedrockInvoker) Name() string { return "bedrock" }

// Do invokes the model once and parses whichever response shape comes back.
func (b *BedrockInvoker) Do(ctx context.Context, req Request) (Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.ModelID),
		Body:        req.Body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	latency := time.Since(start)
	metrics.ObserveProvider("invoke_model", metrics.Result(err), latency)
	if err != nil {
		log.Error().Err(err).Str("model_id", req.ModelID).Dur("latency", latency).Msg("invoke model failed")
		return Response{Latency: latency}, classifyInvoke(err)
	}

	parsed, err := ParseOutput(out.Body)
	if err != nil {
		return Response{Latency: latency, Raw: out.Body}, fmt.Errorf("parse model response: %w", err)
	}
	log.Debug().
		Str("model_id", req.ModelID).
		Str("family", string(parsed.Family)).
		Int("tokens_in", parsed.InputTokens).
		Int("tokens_out", parsed.OutputTokens).
		Dur("latency", latency).
		Msg("model invoked")
	return Response{Output: parsed, Latency: latency, Raw: out.Body}, nil
}

func classifyInvoke(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "ServiceQuotaExceededException":
		return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
	case "AccessDeniedException":
		return fmt.Errorf("%w: %s", ErrAccessDenied, apiErr.ErrorMessage())
	case "ValidationException":
		return fmt.Errorf("%w: %s", ErrValidation, apiErr.ErrorMessage())
	}
	return err
}
