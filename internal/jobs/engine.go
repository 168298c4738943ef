package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	btypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/bedrockbatch/internal/metrics"
	"github.com/local/bedrockbatch/internal/storage"
)

// BedrockAPI is the slice of the Bedrock control plane the engine calls.
type BedrockAPI interface {
	CreateModelInvocationJob(ctx context.Context, params *bedrock.CreateModelInvocationJobInput, optFns ...func(*bedrock.Options)) (*bedrock.CreateModelInvocationJobOutput, error)
	GetModelInvocationJob(ctx context.Context, params *bedrock.GetModelInvocationJobInput, optFns ...func(*bedrock.Options)) (*bedrock.GetModelInvocationJobOutput, error)
	StopModelInvocationJob(ctx context.Context, params *bedrock.StopModelInvocationJobInput, optFns ...func(*bedrock.Options)) (*bedrock.StopModelInvocationJobOutput, error)
	ListModelInvocationJobs(ctx context.Context, params *bedrock.ListModelInvocationJobsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListModelInvocationJobsOutput, error)
}

// Engine submits batch inference jobs and relays their status.
type Engine struct {
	client BedrockAPI
	region string
	now    func() time.Time
}

// New builds an engine from the default credential chain.
func New(ctx context.Context, region string) (*Engine, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(bedrock.NewFromConfig(cfg), region), nil
}

func NewWithClient(client BedrockAPI, region string) *Engine {
	return &Engine{client: client, region: region, now: time.Now}
}

func (e *Engine) Region() string { return e.region }

// SubmitRequest carries the inputs of one job submission. JobName is
// generated when empty.
type SubmitRequest struct {
	ManifestURI  string
	OutputBucket string
	OutputPrefix string
	ModelID      string
	RoleARN      string
	JobName      string
	Tags         map[string]string
}

// OutputURI renders the output location descriptor for a bucket and prefix.
func OutputURI(bucket, prefix string) string {
	return storage.FormatURI(bucket, storage.NormalizePrefix(prefix))
}

// JobName returns a timestamped, collision-resistant job name.
func JobName(now time.Time) string {
	return fmt.Sprintf("batch-job-%d-%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Submit creates the job once. Failures come back as *SubmissionError.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Handle, error) {
	name := req.JobName
	if name == "" {
		name = JobName(e.now())
	}
	outURI := OutputURI(req.OutputBucket, req.OutputPrefix)

	in := &bedrock.CreateModelInvocationJobInput{
		JobName: aws.String(name),
		ModelId: aws.String(req.ModelID),
		RoleArn: aws.String(req.RoleARN),
		InputDataConfig: &btypes.ModelInvocationJobInputDataConfigMemberS3InputDataConfig{
			Value: btypes.ModelInvocationJobS3InputDataConfig{
				S3Uri:         aws.String(req.ManifestURI),
				S3InputFormat: btypes.S3InputFormatJsonl,
			},
		},
		OutputDataConfig: &btypes.ModelInvocationJobOutputDataConfigMemberS3OutputDataConfig{
			Value: btypes.ModelInvocationJobS3OutputDataConfig{S3Uri: aws.String(outURI)},
		},
	}
	for k, v := range req.Tags {
		in.Tags = append(in.Tags, btypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	log.Info().
		Str("job_name", name).
		Str("model_id", req.ModelID).
		Str("input_uri", req.ManifestURI).
		Str("output_uri", outURI).
		Msg("submitting batch job")

	start := time.Now()
	out, err := e.client.CreateModelInvocationJob(ctx, in)
	metrics.ObserveProvider("create_job", metrics.Result(err), time.Since(start))
	if err != nil {
		se := newSubmissionError(name, req.ModelID, err)
		log.Error().Err(err).Str("job_name", name).Str("code", se.Code).Msg("batch job submission rejected")
		return Handle{}, se
	}

	h := Handle{
		JobARN:    aws.ToString(out.JobArn),
		JobName:   name,
		ModelID:   req.ModelID,
		InputURI:  req.ManifestURI,
		OutputURI: outURI,
		Submitted: e.now(),
	}
	log.Info().Str("job_arn", h.JobARN).Str("job_name", name).Msg("batch job submitted")
	return h, nil
}

// GetStatus queries the job once. Query failures never escape as errors;
// they yield StatusError with the failure in Message.
func (e *Engine) GetStatus(ctx context.Context, jobARN string) Snapshot {
	start := time.Now()
	out, err := e.client.GetModelInvocationJob(ctx, &bedrock.GetModelInvocationJobInput{
		JobIdentifier: aws.String(jobARN),
	})
	metrics.ObserveProvider("get_job", metrics.Result(err), time.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("job_arn", jobARN).Msg("job status query failed")
		metrics.IncJobStatus(string(StatusError))
		return Snapshot{JobARN: jobARN, Status: StatusError, Message: errorMessage(err)}
	}

	snap := Snapshot{
		JobARN:         jobARN,
		JobName:        aws.ToString(out.JobName),
		ModelID:        aws.ToString(out.ModelId),
		Status:         mapStatus(out.Status),
		ProviderStatus: string(out.Status),
		SubmitTime:     aws.ToTime(out.SubmitTime),
		LastModified:   aws.ToTime(out.LastModifiedTime),
		EndTime:        aws.ToTime(out.EndTime),
		Message:        aws.ToString(out.Message),
	}
	if out.JobArn != nil {
		snap.JobARN = *out.JobArn
	}
	if in, ok := out.InputDataConfig.(*btypes.ModelInvocationJobInputDataConfigMemberS3InputDataConfig); ok {
		snap.InputURI = aws.ToString(in.Value.S3Uri)
	}
	if o, ok := out.OutputDataConfig.(*btypes.ModelInvocationJobOutputDataConfigMemberS3OutputDataConfig); ok {
		snap.OutputURI = aws.ToString(o.Value.S3Uri)
	}
	metrics.IncJobStatus(string(snap.Status))

	log.Debug().
		Str("job_arn", jobARN).
		Str("status", string(snap.Status)).
		Str("provider_status", snap.ProviderStatus).
		Str("output_uri", snap.OutputURI).
		Msg("job status")
	return snap
}

// Stop asks the provider to stop the job.
func (e *Engine) Stop(ctx context.Context, jobARN string) error {
	start := time.Now()
	_, err := e.client.StopModelInvocationJob(ctx, &bedrock.StopModelInvocationJobInput{
		JobIdentifier: aws.String(jobARN),
	})
	metrics.ObserveProvider("stop_job", metrics.Result(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("stop job %s: %s: %w", jobARN, errorMessage(err), err)
	}
	log.Info().Str("job_arn", jobARN).Msg("stop requested")
	return nil
}

// ListFilter narrows List. Zero values mean no filter; Max defaults to 10.
type ListFilter struct {
	NameContains string
	Status       string // provider status, e.g. "InProgress"
	Max          int
}

// List returns the most recently submitted jobs, newest first.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]Snapshot, error) {
	limit := f.Max
	if limit <= 0 {
		limit = 10
	}
	in := &bedrock.ListModelInvocationJobsInput{
		MaxResults: aws.Int32(int32(min(limit, 1000))),
		SortBy:     btypes.SortJobsByCreationTime,
		SortOrder:  btypes.SortOrderDescending,
	}
	if f.NameContains != "" {
		in.NameContains = aws.String(f.NameContains)
	}
	if f.Status != "" {
		in.StatusEquals = btypes.ModelInvocationJobStatus(f.Status)
	}

	var out []Snapshot
	for len(out) < limit {
		start := time.Now()
		page, err := e.client.ListModelInvocationJobs(ctx, in)
		metrics.ObserveProvider("list_jobs", metrics.Result(err), time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("list jobs: %s: %w", errorMessage(err), err)
		}
		for _, s := range page.InvocationJobSummaries {
			snap := Snapshot{
				JobARN:         aws.ToString(s.JobArn),
				JobName:        aws.ToString(s.JobName),
				ModelID:        aws.ToString(s.ModelId),
				Status:         mapStatus(s.Status),
				ProviderStatus: string(s.Status),
				SubmitTime:     aws.ToTime(s.SubmitTime),
				LastModified:   aws.ToTime(s.LastModifiedTime),
				EndTime:        aws.ToTime(s.EndTime),
				Message:        aws.ToString(s.Message),
			}
			if o, ok := s.OutputDataConfig.(*btypes.ModelInvocationJobOutputDataConfigMemberS3OutputDataConfig); ok {
				snap.OutputURI = aws.ToString(o.Value.S3Uri)
			}
			out = append(out, snap)
			if len(out) == limit {
				break
			}
		}
		if page.NextToken == nil || aws.ToString(page.NextToken) == "" {
			break
		}
		in.NextToken = page.NextToken
	}
	return out, nil
}
