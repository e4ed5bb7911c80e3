// Package config handles loading and validating the IPMI bridge service
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading an optional dotenv file
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields
//
// Per-device BMC settings do not live here. They are in the bridge config
// file named by protocols.ipmi.config_file, loaded by the ipmi bridge.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via
//     environment variables or the dotenv file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.ID)
package config
