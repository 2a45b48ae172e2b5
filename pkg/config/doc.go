// Package config provides configuration loading, defaults, and validation
// for the Hermes gateway.
//
// Configuration is read from a YAML file, overlaid with HERMES_* environment
// variables, and validated before use. A Watcher can reload the file at
// runtime; only the rate-limit tenant tiers and weights are consumed from
// reloads.
package config
