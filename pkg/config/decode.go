package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decode builds a configuration from a generic map (typically a decoded JSON
// configuration-updated payload). Keys use the yaml tag names. Unset fields
// take their defaults, so the result replaces rather than patches the live
// configuration.
func Decode(raw map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeJSON decodes a JSON object payload with Decode.
func DecodeJSON(data string) (*Config, error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("config: empty configuration payload")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("config: payload is not a JSON object: %w", err)
	}
	return Decode(raw)
}
