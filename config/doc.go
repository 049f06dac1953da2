// Package config loads the router configuration from defaults, an optional
// YAML file, ROUTER_* environment variables and command-line flags, and
// validates it before anything is started.
package config
