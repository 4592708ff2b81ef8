package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct tags carry the
// per-field rules; Validate adds the cross-field checks tags cannot
// express.
var validate = validator.New()

// Validate checks the configuration for errors.
//
// Field-level rules (ranges, oneof sets, required fields) come from the
// validate struct tags. On top of those, Validate enforces:
//   - the selected object store backend has its required keys
//   - tracing has an endpoint when enabled
//
// Validate does not modify the configuration; normalization (such as
// uppercasing the log level) happens in ApplyDefaults.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := validateObjectStore(&cfg.ObjectStore); err != nil {
		return err
	}

	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry tracing endpoint is required when tracing is enabled")
	}

	return nil
}

// validateObjectStore checks that the selected backend has the keys it
// needs. Keys of unselected backends are ignored so a config file can
// carry several backend sections and switch between them.
func validateObjectStore(cfg *ObjectStoreConfig) error {
	switch cfg.Backend {
	case "local":
		if cfg.Local.Dir == "" {
			return fmt.Errorf("object_store.local.dir is required when backend is local")
		}
	case "s3_compatible":
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("object_store.s3.bucket is required when backend is s3_compatible")
		}
		if cfg.S3.Region == "" {
			return fmt.Errorf("object_store.s3.region is required when backend is s3_compatible")
		}
	case "hosted":
		if cfg.Hosted.Endpoint == "" {
			return fmt.Errorf("object_store.hosted.endpoint is required when backend is hosted")
		}
		if cfg.Hosted.APIKey == "" {
			return fmt.Errorf("object_store.hosted.api_key is required when backend is hosted")
		}
	}

	return nil
}
