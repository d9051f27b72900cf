package normalize

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// flexString accepts identifiers sent either as JSON strings or numbers.
type flexString struct {
	set    bool
	number bool
	value  string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		f.value = s
	} else {
		f.value = string(data)
		_, err := strconv.ParseFloat(f.value, 64)
		f.number = err == nil
	}
	f.set = true
	return nil
}

func (f flexString) String() string {
	return f.value
}

// Value is the identifier as the feed sent it: a number stays a number.
func (f flexString) Value() any {
	if !f.set {
		return nil
	}
	if f.number {
		return json.Number(f.value)
	}
	return f.value
}

func (f flexString) empty() bool {
	return !f.set || strings.TrimSpace(f.value) == ""
}

// The optional scalars below never fail a decode. A value of the wrong
// JSON type decodes as absent; numeric strings are accepted.

func scalarText(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return string(data)
}

type flexInt struct {
	v *int64
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	f.v = nil
	text := scalarText(data)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		f.v = &n
		return nil
	}
	// integral floats such as 3.0 or 1.7e12 keep their value
	if x, err := strconv.ParseFloat(text, 64); err == nil && x == math.Trunc(x) && math.Abs(x) < 1<<63 {
		n := int64(x)
		f.v = &n
	}
	return nil
}

func (f flexInt) ptr() *int64 {
	return f.v
}

type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.v = nil
	if x, err := strconv.ParseFloat(scalarText(data), 64); err == nil && !math.IsNaN(x) && !math.IsInf(x, 0) {
		f.v = &x
	}
	return nil
}

func (f flexFloat) ptr() *float64 {
	return f.v
}

type flexBool struct {
	v *bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	f.v = nil
	if b, err := strconv.ParseBool(scalarText(data)); err == nil {
		f.v = &b
	}
	return nil
}

func (f flexBool) ptr() *bool {
	return f.v
}
