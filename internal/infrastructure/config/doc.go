// Package config handles loading and validating Pentair Cloud Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and program role assignments
//   - Default value handling, including the Pentair cloud identifiers
//
// Security Considerations:
//   - The Pentair account password should be set via PENTAIRCLOUD_PASSWORD
//   - The config file should have restricted permissions (0600)
//   - The API key is stored only as an argon2id hash
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Programs.RelayHeater)
package config
