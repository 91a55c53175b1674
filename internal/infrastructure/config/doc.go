// Package config handles loading and validating the Homismart client
// configuration.
//
// Values are layered: built-in defaults, then the YAML file (if any), then
// HOMISMART_* environment variables. LoadDotEnv can populate the
// environment from a .env file first; it never overrides variables that
// are already set.
//
// Security Considerations:
//   - Account and broker passwords should come from the environment or .env
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	if err := config.LoadDotEnv(); err != nil {
//	    return err
//	}
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Homismart.URL)
package config
