// Package provision creates or updates the AWS resources the cost fetcher
// Lambdas run on: one artifact bucket, one execution role with two policies
// and the functions themselves. Every step checks before it creates, so a
// run can be repeated after a failure.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "cloud-cost-router-artifacts"
	DefaultRoleName      = "cloud-cost-router-lambda"
	DefaultAWSFunction   = "cloud-cost-router-aws-costs"
	DefaultAzureFunction = "cloud-cost-router-azure-costs"

	basicExecutionPolicyARN = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
	costReadPolicyName      = "cloud-cost-read"
)

// DefaultRoleSettleDelay covers IAM propagation: a freshly created role is
// rejected by CreateFunction for a few seconds.
const DefaultRoleSettleDelay = 10 * time.Second

type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type IAMAPI interface {
	GetRole(ctx context.Context, in *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	PutRolePolicy(ctx context.Context, in *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
}

type LambdaAPI interface {
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
}

// Function is one Lambda and the zip built for it.
type Function struct {
	Name     string
	Artifact string
}

type Plan struct {
	Region    string
	Bucket    string
	RoleName  string
	Functions []Function
}

// DefaultPlan expects the artifacts as <dir>/<function>.zip.
func DefaultPlan(artifactDir string) Plan {
	return Plan{
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
		RoleName: DefaultRoleName,
		Functions: []Function{
			NewFunction(artifactDir, DefaultAWSFunction),
			NewFunction(artifactDir, DefaultAzureFunction),
		},
	}
}

// NewFunction names a function whose artifact is <dir>/<name>.zip.
func NewFunction(artifactDir, name string) Function {
	return Function{Name: name, Artifact: filepath.Join(artifactDir, name+".zip")}
}

// Result records what one step did.
type Result struct {
	Resource string
	Name     string
	Action   string
}

const (
	ActionExists   = "exists"
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionAttached = "attached"
	ActionPut      = "put"
	ActionUploaded = "uploaded"
)

// StepError names the step that aborted the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Code returns the AWS error code when the failure came from an API call.
func (e *StepError) Code() string {
	var ae smithy.APIError
	if errors.As(e.Err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

type Provisioner struct {
	s3     S3API
	iam    IAMAPI
	lambda LambdaAPI

	RoleSettleDelay time.Duration
}

func New(s3c S3API, iamc IAMAPI, lambdac LambdaAPI) *Provisioner {
	return &Provisioner{s3: s3c, iam: iamc, lambda: lambdac, RoleSettleDelay: DefaultRoleSettleDelay}
}

// Run applies the plan step by step and stops at the first failure. The
// results of the steps that completed are returned either way; nothing is
// rolled back.
func (p *Provisioner) Run(ctx context.Context, plan Plan) ([]Result, error) {
	var results []Result
	step := func(name string, fn func() (Result, error)) error {
		r, err := fn()
		if err != nil {
			return &StepError{Step: name, Err: err}
		}
		log.Info().Str("resource", r.Resource).Str("name", r.Name).Str("action", r.Action).Msg("provisioned")
		results = append(results, r)
		return nil
	}

	if err := step("bucket", func() (Result, error) { return p.ensureBucket(ctx, plan.Region, plan.Bucket) }); err != nil {
		return results, err
	}

	var roleARN string
	var roleCreated bool
	if err := step("role", func() (r Result, err error) {
		r, roleARN, err = p.ensureRole(ctx, plan.RoleName)
		roleCreated = r.Action == ActionCreated
		return r, err
	}); err != nil {
		return results, err
	}
	if err := step("role policy", func() (Result, error) { return p.attachBasicExecution(ctx, plan.RoleName) }); err != nil {
		return results, err
	}
	if err := step("role policy", func() (Result, error) { return p.putCostReadPolicy(ctx, plan.RoleName, plan.Bucket) }); err != nil {
		return results, err
	}
	if roleCreated && p.RoleSettleDelay > 0 {
		log.Info().Dur("delay", p.RoleSettleDelay).Msg("waiting for new role to propagate")
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-time.After(p.RoleSettleDelay):
		}
	}

	for _, fn := range plan.Functions {
		key := filepath.Base(fn.Artifact)
		if err := step("upload "+fn.Name, func() (Result, error) { return p.upload(ctx, plan.Bucket, key, fn.Artifact) }); err != nil {
			return results, err
		}
		if err := step("function "+fn.Name, func() (Result, error) { return p.ensureFunction(ctx, fn.Name, roleARN, plan.Bucket, key) }); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (p *Provisioner) ensureBucket(ctx context.Context, region, bucket string) (Result, error) {
	r := Result{Resource: "s3 bucket", Name: bucket, Action: ActionExists}
	_, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return r, nil
	}
	var notFound *s3types.NotFound
	if !errors.As(err, &notFound) {
		return r, err
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	if _, err := p.s3.CreateBucket(ctx, in); err != nil {
		return r, err
	}
	r.Action = ActionCreated
	return r, nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal,omitempty"`
	Action    []string          `json:"Action"`
	Resource  []string          `json:"Resource,omitempty"`
}

func (d policyDocument) String() string {
	b, _ := json.Marshal(d)
	return string(b)
}

func lambdaTrustPolicy() policyDocument {
	return policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Service": "lambda.amazonaws.com"},
			Action:    []string{"sts:AssumeRole"},
		}},
	}
}

func costReadPolicy(bucket string) policyDocument {
	return policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{Effect: "Allow", Action: []string{"ce:GetCostAndUsage"}, Resource: []string{"*"}},
			{Effect: "Allow", Action: []string{"s3:GetObject"}, Resource: []string{"arn:aws:s3:::" + bucket + "/*"}},
		},
	}
}

func (p *Provisioner) ensureRole(ctx context.Context, name string) (Result, string, error) {
	r := Result{Resource: "iam role", Name: name, Action: ActionExists}
	out, err := p.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err == nil {
		return r, roleARN(out.Role), nil
	}
	var noSuchEntity *iamtypes.NoSuchEntityException
	if !errors.As(err, &noSuchEntity) {
		return r, "", err
	}

	created, err := p.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(lambdaTrustPolicy().String()),
		Description:              aws.String("Execution role for the cloud cost fetcher functions"),
	})
	if err != nil {
		return r, "", err
	}
	r.Action = ActionCreated
	return r, roleARN(created.Role), nil
}

func roleARN(role *iamtypes.Role) string {
	if role == nil {
		return ""
	}
	return aws.ToString(role.Arn)
}

func (p *Provisioner) attachBasicExecution(ctx context.Context, role string) (Result, error) {
	_, err := p.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(role),
		PolicyArn: aws.String(basicExecutionPolicyARN),
	})
	return Result{Resource: "iam managed policy", Name: "AWSLambdaBasicExecutionRole", Action: ActionAttached}, err
}

func (p *Provisioner) putCostReadPolicy(ctx context.Context, role, bucket string) (Result, error) {
	_, err := p.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(costReadPolicyName),
		PolicyDocument: aws.String(costReadPolicy(bucket).String()),
	})
	return Result{Resource: "iam inline policy", Name: costReadPolicyName, Action: ActionPut}, err
}

func (p *Provisioner) upload(ctx context.Context, bucket, key, path string) (Result, error) {
	r := Result{Resource: "s3 object", Name: bucket + "/" + key, Action: ActionUploaded}
	f, err := os.Open(path)
	if err != nil {
		return r, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	_, err = p.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	return r, err
}

func (p *Provisioner) ensureFunction(ctx context.Context, name, role, bucket, key string) (Result, error) {
	r := Result{Resource: "lambda function", Name: name, Action: ActionUpdated}
	_, err := p.lambda.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err == nil {
		_, err = p.lambda.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
			FunctionName: aws.String(name),
			S3Bucket:     aws.String(bucket),
			S3Key:        aws.String(key),
		})
		return r, err
	}
	var notFound *lambdatypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return r, err
	}

	_, err = p.lambda.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName:  aws.String(name),
		Role:          aws.String(role),
		Runtime:       lambdatypes.RuntimeProvidedal2023,
		Handler:       aws.String("bootstrap"),
		Architectures: []lambdatypes.Architecture{lambdatypes.ArchitectureArm64},
		Timeout:       aws.Int32(30),
		MemorySize:    aws.Int32(128),
		Code: &lambdatypes.FunctionCode{
			S3Bucket: aws.String(bucket),
			S3Key:    aws.String(key),
		},
	})
	r.Action = ActionCreated
	return r, err
}
