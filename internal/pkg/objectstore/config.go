package objectstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/genesis-provenance/genesis/internal/pkg/env"
)

// Config holds the S3 settings for statement archival.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // S3-compatible services (MinIO, B2)
	Enabled         bool
	// CreateBucket creates a missing bucket on startup. Never set in prod.
	CreateBucket bool
}

// LoadConfig reads S3_* variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("S3_STATEMENTS_ENABLED", false),
		CreateBucket:    env.GetEnv("APP_ENV", "prod") != "prod",
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when statement archival is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when statement archival is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when statement archival is enabled")
		}
	}
	return cfg, nil
}

func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// StatementKey is the object key of an organization's statement for the
// period [start, end): statements/<org>/<start>_<end>.xlsx
func StatementKey(orgID uint, start, end time.Time) string {
	const layout = "20060102"
	return fmt.Sprintf("statements/%d/%s_%s.xlsx", orgID, start.UTC().Format(layout), end.UTC().Format(layout))
}
