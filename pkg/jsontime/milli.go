// Package jsontime provides time types with compact, stable encodings for
// JSON and YAML: Milli as Unix milliseconds and Duration as a Go duration
// string such as "250ms".
package jsontime

import (
	"encoding/json"
	"time"
)

// Milli is a time.Time encoded as Unix milliseconds.
type Milli time.Time

// Now returns the current time as Milli.
func Now() Milli {
	return Milli(time.Now())
}

// Time returns the underlying time.Time value.
func (ep Milli) Time() time.Time {
	return time.Time(ep)
}

// IsZero reports whether ep is the zero instant.
func (ep Milli) IsZero() bool {
	return time.Time(ep).IsZero()
}

// Sub returns the duration ep-t.
func (ep Milli) Sub(t Milli) time.Duration {
	return time.Time(ep).Sub(time.Time(t))
}

// MarshalJSON implements json.Marshaler.
func (ep Milli) MarshalJSON() ([]byte, error) {
	if ep.IsZero() {
		return []byte("0"), nil
	}
	return json.Marshal(time.Time(ep).UnixMilli())
}

// UnmarshalJSON implements json.Unmarshaler.
func (ep *Milli) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	if ms == 0 {
		*ep = Milli{}
		return nil
	}
	*ep = Milli(time.UnixMilli(ms))
	return nil
}

// MarshalYAML encodes ep as Unix milliseconds.
func (ep Milli) MarshalYAML() (any, error) {
	if ep.IsZero() {
		return int64(0), nil
	}
	return time.Time(ep).UnixMilli(), nil
}

// String returns the time in RFC 3339 with milliseconds.
func (ep Milli) String() string {
	return time.Time(ep).Format("2006-01-02T15:04:05.000Z07:00")
}
