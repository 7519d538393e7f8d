// Package config handles loading and validating the Lake Shore logger configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (LAKESHORE_*)
//   - Validation of required fields
//   - Default value handling, including the default instrument bench
//
// Source selection is resolved here, once, through each source's enabled flag.
// Nothing downstream checks whether an instrument "exists" at runtime.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("LAKESHORE_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, src := range cfg.ActiveSources() {
//	    fmt.Println(src.ID)
//	}
package config
