package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt is a numeric id that backends send either as a JSON number or as
// a numeric string. null and "" decode to zero.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		data = []byte(s)
	}

	// Floats such as 12.0 show up from some serializers.
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("models: invalid numeric id %s", data)
	}
	if n != float64(int64(n)) {
		return fmt.Errorf("models: non-integer id %s", data)
	}
	*f = FlexInt(int64(n))
	return nil
}

// Int64 returns the id as int64.
func (f FlexInt) Int64() int64 { return int64(f) }

// FlexString decodes strings and numbers into a string.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	*s = FlexString(data)
	return nil
}

// String returns the decoded value.
func (s FlexString) String() string { return string(s) }
