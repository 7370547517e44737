package config

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned for a key that is not in the config table.
var ErrUnknownKey = errors.New("unknown config key")

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		v, err := parseValue(s, value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if i, ok := v.(int); ok {
			return b.SetInt(key, i)
		}
		// bools and durations are stored in their string form
		return b.SetString(key, value)
	}

	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// UnsetKey removes a key from the platform backend so the default applies again.
func UnsetKey(key string) error {
	for _, s := range specs {
		if s.key == key {
			return newPlatformBackend().Delete(key)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
