// Package config loads the zyndd JSON configuration file, overlays secrets from
// environment variables and fills in defaults for every section.
package config
