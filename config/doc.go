// Package config provides configuration loading for the NATS bridge.
//
// Configuration is resolved in three steps: built-in defaults, one or more
// file layers (JSON, or YAML for .yaml/.yml files), then environment
// overrides prefixed with NATSBRIDGE_. Fields absent from a layer keep the
// value of the previous step.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/natsbridge/base.yaml")
//	loader.AddLayer("natsbridge.local.json") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Overrides
//
//	NATSBRIDGE_NATS_URL         nats.url
//	NATSBRIDGE_NATS_CREDS_FILE  nats.creds_file
//	NATSBRIDGE_NATS_NAME        nats.name
//	NATSBRIDGE_HTTP_PORT        http.port
//	NATSBRIDGE_METRICS_PORT     metrics.port
//	NATSBRIDGE_SINK_TYPE        sink.type (comma separated)
//
// # Durations
//
// Duration fields accept Go duration strings ("5s", "250ms") or integer
// nanoseconds, and are written back as strings.
//
// Validation errors are classified as invalid (see the errors package) and
// wrap errors.ErrInvalidConfig.
package config
