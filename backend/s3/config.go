package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jonwraymond/memocache/cache"
)

// DefaultRequestRate caps requests per second against one prefix, under the
// per-prefix request limit S3 applies to writes.
const DefaultRequestRate = 3000

// Config configures an s3 Backend.
type Config struct {
	// Location is bucket or bucket/prefix. Bucket and Prefix override it.
	Location string `yaml:"location"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`

	// Region defaults to us-east-1.
	Region string `yaml:"region"`

	// Endpoint selects an S3-compatible service and enables path-style
	// addressing.
	Endpoint string `yaml:"endpoint"`

	// Static credentials. The default credential chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// ParseLocation splits bucket/prefix.
func ParseLocation(loc string) (bucket, prefix string) {
	loc = strings.TrimPrefix(loc, "s3://")
	bucket, prefix, _ = strings.Cut(loc, "/")
	return bucket, prefix
}

// resolve fills Bucket and Prefix from Location and normalizes Prefix to end
// in a slash.
func (c Config) resolve() Config {
	bucket, prefix := ParseLocation(c.Location)
	if c.Bucket == "" {
		c.Bucket = bucket
	}
	if c.Prefix == "" {
		c.Prefix = prefix
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Prefix != "" {
		c.Prefix += "/"
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return c
}

// Validate checks the config.
func (c Config) Validate() error {
	r := c.resolve()
	if r.Bucket == "" {
		return fmt.Errorf("%w: s3 bucket is required", cache.ErrInvalidConfig)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access key id and secret must be set together", cache.ErrInvalidConfig)
	}
	return nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}
