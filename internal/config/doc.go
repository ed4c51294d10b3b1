// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Variables may come from the process environment or from a .env file loaded
// with LoadDotEnv before the YAML is read.
package config
