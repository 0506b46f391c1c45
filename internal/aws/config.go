package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultRegion is used when neither the caller nor AWS_REGION provides one.
const DefaultRegion = "us-east-1"

// Options tune how the SDK config is loaded. Zero values fall back to the
// environment (AWS_REGION, AWS_ENDPOINT_OVERRIDE).
type Options struct {
	Region           string
	EndpointOverride string // e.g. http://localhost:4566 for LocalStack
}

func LoadAWSConfig(ctx context.Context) (sdkaws.Config, error) {
	return LoadAWSConfigWithOptions(ctx, Options{})
}

func LoadAWSConfigWithOptions(ctx context.Context, opts Options) (sdkaws.Config, error) {
	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = DefaultRegion // default fallback
	}
	endpoint := opts.EndpointOverride
	if endpoint == "" {
		endpoint = os.Getenv("AWS_ENDPOINT_OVERRIDE")
	}

	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if endpoint != "" {
		loaders = append(loaders, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
