// Package config provides configuration management for SwarmFlow.
//
// Configuration is assembled in three layers: compiled-in defaults,
// an optional YAML file, and environment variable overrides
// (SWARMFLOW_SECTION_FIELD). Loading is done through the Loader
// builder; see NewLoader.
package config
