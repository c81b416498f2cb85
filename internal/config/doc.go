// Package config provides configuration loading and validation for the meeting monitor.
// It handles YAML-based configuration with environment expansion, defaults and
// per-section validation.
package config
