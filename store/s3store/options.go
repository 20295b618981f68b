package s3store

import (
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/input-output-hk/catalyst-forge-libs/objfs/internal/s3api"
)

// config holds backend construction settings.
type config struct {
	region         string
	endpoint       string
	forcePathStyle bool
	awsConfig      *aws.Config
	client         s3api.S3API
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *config) {
		c.region = region
	}
}

// WithEndpoint sets a custom endpoint URL, for S3-compatible services such
// as LocalStack, OSS or R2.
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.endpoint = endpoint
	}
}

// WithForcePathStyle addresses buckets in the URL path instead of the host.
func WithForcePathStyle(enabled bool) Option {
	return func(c *config) {
		c.forcePathStyle = enabled
	}
}

// WithAWSConfig uses cfg instead of loading the default AWS configuration.
func WithAWSConfig(cfg aws.Config) Option {
	return func(c *config) {
		c.awsConfig = &cfg
	}
}

// WithClient uses client for every request. Region, endpoint and path style
// options are ignored.
func WithClient(client s3api.S3API) Option {
	return func(c *config) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
