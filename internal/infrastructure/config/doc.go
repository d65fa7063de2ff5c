// Package config loads and validates the instrument station configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with INSTRUMENTSTATION_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Passwords and tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Leaving security.jwt.secret empty disables bearer authentication;
//     do that only on an isolated lab network
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Station.Name)
package config
