// Package config handles YAML configuration loading for wirepoold, with
// environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation.
package config
