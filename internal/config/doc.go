// Package config loads the sessionmux configuration.
//
// Files are YAML with ${VAR} environment interpolation. A small set of
// SESSIONMUX_* environment variables override file values after parsing,
// so secrets can stay out of the file entirely.
package config
