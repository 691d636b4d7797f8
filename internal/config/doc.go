// Package config loads engine configuration.
//
// Configuration files are YAML or CUE. Either form is unified with the
// embedded CUE schema (schema.cue), which supplies defaults and rejects
// unknown fields and out-of-range values, then decoded into Config.
//
//	cfg, err := config.Load("strata.yaml")
//	if err != nil {
//	    return err
//	}
//	st, err := config.OpenStore(ctx, cfg, logger)
package config
