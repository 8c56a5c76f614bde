// Package config provides loading and environment overlay for evlog
// configuration. It exposes a Default() baseline that a JSON or YAML file
// and EVLOG_* variables refine, and Validate to reject unusable settings
// before anything is opened.
//
// Example:
//
//	cfg, err := config.Load("/etc/evlog.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
package config
