package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// output writes v as indented JSON, or through text in text format.
func output(w io.Writer, format string, v any, text func(io.Writer) error) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return nil
	}
	return text(w)
}
