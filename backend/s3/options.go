package s3

import (
	"strconv"

	"github.com/unidal/dal"
)

// Config configures a Backend. dal itself has no opinion on config
// sources, so this stays a thin, backend-local struct rather than a
// generic config framework.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for S3-compatible stores (MinIO, R2, ...)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string // key prefix applied under the bucket, like a sub-root
}

// Validate checks the fields required to construct a client.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return dal.NewError(dal.KindConfigInvalid, "s3: bucket is required")
	}
	return nil
}

// ConfigFromMap builds a Config from the string map dal.Open passes
// backend factories.
func ConfigFromMap(m map[string]string) Config {
	pathStyle, _ := strconv.ParseBool(m["use_path_style"])
	return Config{
		Bucket:          m["bucket"],
		Region:          m["region"],
		Endpoint:        m["endpoint"],
		AccessKeyID:     m["access_key_id"],
		SecretAccessKey: m["secret_access_key"],
		UsePathStyle:    pathStyle,
		Prefix:          m["prefix"],
	}
}
