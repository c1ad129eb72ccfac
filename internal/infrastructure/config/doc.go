// Package config handles loading and validating swetrack-sync configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SWETRACK_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The SweTrack bearer token should be set via SWETRACK_TOKEN, not the file
//   - The config file should have restricted permissions (0600)
//   - The account allows one active external token; rotating it in the
//     portal invalidates the configured value without notice
//
// Runtime options (scan interval, extended telemetry, token) are re-read on
// SIGHUP by the run command and take effect on the next scheduled poll.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GetScanInterval())
package config
