package currency

import (
	"fmt"
	"time"
)

// Format tells a renderer how to present a field value.
type Format string

const (
	FormatAddress Format = "address"
	FormatBoolean Format = "boolean"
	FormatDate    Format = "date"
	FormatHash    Format = "hash"
	FormatNumber  Format = "number"
	FormatString  Format = "string"
	FormatValue   Format = "value"
)

// ConfirmedKey is both key and label of the confirmation field. When present
// it is the last field of a schema.
const ConfirmedKey = "isConfirmed"

type SchemaField struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Format Format `json:"format"`
}

type Schema []SchemaField

// Cell is one rendered value with an optional explorer link.
type Cell struct {
	Value string `json:"value"`
	Link  string `json:"link,omitempty"`
}

// Transaction is a rendered transaction keyed by schema field key.
type Transaction map[string]Cell

func (s Schema) Keys() []string {
	keys := make([]string, len(s))
	for i, f := range s {
		keys[i] = f.Key
	}
	return keys
}

// Validate checks that keys are unique and that isConfirmed, if present, is last.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for i, f := range s {
		if f.Key == "" {
			return fmt.Errorf("schema field %d has empty key", i)
		}
		if seen[f.Key] {
			return fmt.Errorf("duplicate schema key %q", f.Key)
		}
		seen[f.Key] = true
		if f.Key == ConfirmedKey || f.Label == ConfirmedKey {
			if f.Key != ConfirmedKey || f.Label != ConfirmedKey || f.Format != FormatBoolean {
				return fmt.Errorf("%s field must use key and label %q with boolean format", ConfirmedKey, ConfirmedKey)
			}
			if i != len(s)-1 {
				return fmt.Errorf("%s must be the last schema field", ConfirmedKey)
			}
		}
	}
	return nil
}

// Check verifies that tx renders every field of s in the declared format.
func (s Schema) Check(tx Transaction) error {
	for _, f := range s {
		cell, ok := tx[f.Key]
		if !ok {
			return fmt.Errorf("transaction is missing field %q", f.Key)
		}
		switch f.Format {
		case FormatBoolean:
			if cell.Value != "true" && cell.Value != "false" {
				return fmt.Errorf("field %q: %q is not a boolean", f.Key, cell.Value)
			}
		case FormatDate:
			t, err := time.Parse(time.RFC3339, cell.Value)
			if err != nil {
				return fmt.Errorf("field %q: %w", f.Key, err)
			}
			if _, off := t.Zone(); off != 0 {
				return fmt.Errorf("field %q: %q is not UTC", f.Key, cell.Value)
			}
		}
	}
	return nil
}

// FormatTime renders t as ISO-8601 in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
