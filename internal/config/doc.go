// Package config provides configuration loading and validation for the voice
// capture service. A YAML file is layered over Default(), then SOAPER_*
// environment variables (optionally from a .env file) override single keys.
// The result is checked with struct tags and cross-field rules.
package config
