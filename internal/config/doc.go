// Package config loads fusion-gateway configuration from a YAML file with
// ${ENV_VAR} expansion, duration parsing for raw string fields, and
// validation of required settings.
package config
