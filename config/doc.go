// Package config loads the takstreams service configuration.
//
// Files are JSON or YAML, chosen by extension, and are merged over Default()
// in the order given: maps merge key by key, lists replace. Environment
// variables named TAKSTREAMS_* override the merged result, then Validate
// checks the sections and builds the layer registry to prove every
// connection, data sync and layer reference resolves.
//
//	cfg, err := config.Load("/etc/takstreams/base.yaml", "/etc/takstreams/site.yaml")
//	if err != nil {
//		return err
//	}
//	reg, err := cfg.Registry()
//
// Layer styles are kept raw in the file model and checked against the style
// JSON schema before compilation, so a typo in a style key fails at load time
// rather than silently doing nothing.
package config
