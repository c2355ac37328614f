// Package config manages user-level settings stored at ~/.agentpack/config.yaml.
// It provides functions to load, read, and write configuration keys such as
// the registry URL and the default install target.
package config
