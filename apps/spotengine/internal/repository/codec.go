package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// bigNum scans a NUMERIC column into a *big.Int. NULL leaves the target nil.
type bigNum struct {
	dst **big.Int
}

func (n bigNum) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*n.dst = nil
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		*n.dst = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("unsupported numeric source %T", src)
	}
	// NUMERIC(78,0) never carries a fraction, but aggregates may render one.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid numeric %q", s)
	}
	*n.dst = v
	return nil
}

func num(v *big.Int) driver.Value {
	if v == nil {
		return nil
	}
	return v.String()
}

// numOrZero is num for NOT NULL columns.
func numOrZero(v *big.Int) driver.Value {
	if v == nil {
		return "0"
	}
	return v.String()
}

// jsonb scans a JSONB column into dst. NULL leaves dst untouched.
type jsonb struct {
	dst any
}

func (j jsonb) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	if err := json.Unmarshal(b, j.dst); err != nil {
		return fmt.Errorf("failed to decode jsonb: %w", err)
	}
	return nil
}

func toJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jsonb: %w", err)
	}
	return b, nil
}
