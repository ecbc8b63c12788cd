// Package config provides configuration loading and validation for the voice chat client.
// It handles YAML-based configuration with per-section validation and
// VOICECHAT_* environment overrides.
package config
