package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/getpup/configsync"
)

// MarshalConfig encodes a persisted config as JSON. A nil config encodes as {}.
func MarshalConfig(cfg configsync.Config) ([]byte, error) {
	if cfg == nil {
		cfg = configsync.Config{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// UnmarshalConfig decodes a JSON config. Undecodable input is reported as
// configsync.ErrMalformedRecord.
// Integral numbers decode as int so a config reads back the way it was
// written; other numbers decode as float64.
func UnmarshalConfig(data []byte) (configsync.Config, error) {
	var cfg configsync.Config
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
	}
	if cfg == nil {
		return configsync.Config{}, nil
	}
	for k, v := range cfg {
		cfg[k] = numbers(v)
	}
	return cfg, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// numbers replaces every json.Number inside v.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil && n >= math.MinInt && n <= math.MaxInt {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
	}
	return v
}

// MarshalRecord encodes any record type as JSON for key-value backends.
func MarshalRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a JSON record into v. Undecodable input is reported
// as configsync.ErrMalformedRecord.
func UnmarshalRecord(data []byte, v any) error {
	if err := decode(data, v); err != nil {
		return fmt.Errorf("%w: %w", configsync.ErrMalformedRecord, err)
	}
	return nil
}
