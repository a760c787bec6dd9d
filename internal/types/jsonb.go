package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*ThresholdOverrides)(nil)
	_ driver.Valuer = ThresholdOverrides{}
	_ sql.Scanner   = (*StringList)(nil)
	_ driver.Valuer = StringList(nil)
)

// scanJSONB scans a JSONB database value into dest. It accepts both []byte
// and string representations from different drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (o *ThresholdOverrides) Scan(value any) error {
	return scanJSONB(o, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (o ThresholdOverrides) Value() (driver.Value, error) {
	return valueJSONB(o)
}

// StringList is a []string stored as a JSONB array (case reasons).
type StringList []string

// Scan implements the sql.Scanner interface.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	return scanJSONB(l, value)
}

// Value implements the driver.Valuer interface. A nil list is stored as [].
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
