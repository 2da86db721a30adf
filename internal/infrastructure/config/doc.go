// Package config handles loading and validating wirehome configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (WIREHOME_*)
//   - Validation of required fields and device definitions
//   - Conversion into the settings of the bus, poller, engine and dispatcher
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Disarm credentials listed here are plain text; prefer the access database
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	devices, err := cfg.DeviceList()
//
// Only the device list is re-read on SIGHUP; other sections need a restart.
package config
