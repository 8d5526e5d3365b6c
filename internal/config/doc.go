// Package config loads and validates server configuration.
//
// Configuration is YAML with ${VAR} environment expansion. Load, then
// applyDefaults fills optional fields, then Validate rejects impossible
// values. LoadAndValidate does all three.
package config
