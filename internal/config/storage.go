package config

// StorageConfig points at the S3-compatible bucket that holds document
// files.  UsePathStyle is required by most non-AWS providers (MinIO,
// Hetzner).
type StorageConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	KeyID        string
	Secret       string
	UsePathStyle bool
}

// LoadStorageConfig reads S3_* variables.
func LoadStorageConfig() StorageConfig {
	return StorageConfig{
		Endpoint:     envStr("S3_ENDPOINT", ""),
		Region:       envStr("S3_REGION", "us-east-1"),
		Bucket:       envStr("S3_BUCKET", "renewal-documents"),
		KeyID:        envStr("S3_KEY_ID", ""),
		Secret:       envStr("S3_SECRET", ""),
		UsePathStyle: envBool("S3_USE_PATH_STYLE", true),
	}
}
