// Copyright 2025 James Ross
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap adapts a Go map to a Postgres JSONB column via database/sql's
// Valuer/Scanner interfaces, the same pattern the teacher applies to
// Redis-stored job payloads but aimed at a relational column instead.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("store: unsupported Scan source %T for JSONMap", src)
	}
	if len(raw) == 0 {
		*m = JSONMap{}
		return nil
	}
	out := JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
