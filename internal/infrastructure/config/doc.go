// Package config loads and validates radiolink configuration.
//
// Loading order is defaults, then the YAML file, then RADIOLINK_* environment
// overrides. Validate reports every problem in one error so an operator can
// fix a config file in a single pass.
//
// Secrets (MQTT password, InfluxDB token, JWT secret) should come from the
// environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Radio.Port)
package config
