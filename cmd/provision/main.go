// provision creates or updates the S3 bucket, IAM role and Lambda functions
// the cost fetchers are deployed to.
//
// Usage:
//
//	provision [--region us-east-1] [--artifacts dist]
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ratnathegod/cloud-cost-router/internal/provision"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "provision",
		Usage: "Create or update the AWS resources of the cost fetcher functions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "region",
				Value:   provision.DefaultRegion,
				Usage:   "AWS region",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:  "bucket",
				Value: provision.DefaultBucket,
				Usage: "S3 bucket holding the function artifacts",
			},
			&cli.StringFlag{
				Name:  "role",
				Value: provision.DefaultRoleName,
				Usage: "IAM execution role name",
			},
			&cli.StringFlag{
				Name:  "aws-function",
				Value: provision.DefaultAWSFunction,
				Usage: "Name of the AWS cost fetcher function",
			},
			&cli.StringFlag{
				Name:  "azure-function",
				Value: provision.DefaultAzureFunction,
				Usage: "Name of the Azure cost fetcher function",
			},
			&cli.StringFlag{
				Name:    "artifacts",
				Aliases: []string{"a"},
				Value:   "dist",
				Usage:   "Directory containing <function>.zip artifacts",
			},
			&cli.DurationFlag{
				Name:  "role-settle-delay",
				Value: provision.DefaultRoleSettleDelay,
				Usage: "Wait after creating the role before creating functions",
			},
		},
		Action: run,
	}
}

// planFromContext starts from the default plan and applies flag overrides.
func planFromContext(c *cli.Context) provision.Plan {
	dir := c.String("artifacts")
	plan := provision.DefaultPlan(dir)
	plan.Region = c.String("region")
	plan.Bucket = c.String("bucket")
	plan.RoleName = c.String("role")
	plan.Functions[0] = provision.NewFunction(dir, c.String("aws-function"))
	plan.Functions[1] = provision.NewFunction(dir, c.String("azure-function"))
	return plan
}

func run(c *cli.Context) error {
	ctx := c.Context
	plan := planFromContext(c)

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(plan.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	p := provision.New(s3.NewFromConfig(awsCfg), iam.NewFromConfig(awsCfg), lambda.NewFromConfig(awsCfg))
	p.RoleSettleDelay = c.Duration("role-settle-delay")

	results, err := p.Run(ctx, plan)
	fmt.Println(provision.RenderSummary(results))
	if err != nil {
		var stepErr *provision.StepError
		if errors.As(err, &stepErr) {
			log.Error().Err(stepErr.Err).Str("step", stepErr.Step).Str("code", stepErr.Code()).Msg("provisioning aborted")
		}
		return err
	}
	log.Info().Int("steps", len(results)).Msg("provisioning complete")
	return nil
}
