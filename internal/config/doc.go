// Package config loads the server's own runtime configuration from multiple
// sources (YAML files, environment variables, CLI flags) with precedence:
// CLI flags > YAML config > Environment variables > Defaults. It is separate
// from the compiler settings served by the registry.
package config
