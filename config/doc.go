// Package config loads client settings from an optional YAML file, a .env
// file and the process environment, in that order of precedence.
package config
