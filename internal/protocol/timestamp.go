// ABOUTME: Timestamp type accepting both RFC 3339 strings and epoch milliseconds.
// ABOUTME: Emits RFC 3339 by default, or an epoch-ms integer when flagged.

package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a point in time that tolerates both wire encodings the fleet
// produces: ISO-8601/RFC 3339 strings and integer epoch milliseconds. Full
// reports carry the string form; quick system reports flag theirs with
// AsEpochMillis to carry the integer form.
type Timestamp struct {
	time.Time

	asEpochMillis bool
}

// Now returns the current time as a Timestamp, truncated to milliseconds so
// a round trip through the epoch-ms encoding is lossless.
func Now() Timestamp {
	return Timestamp{Time: time.Now().UTC().Truncate(time.Millisecond)}
}

// FromTime wraps a time.Time.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// EpochMillis returns the timestamp as milliseconds since the Unix epoch.
func (t Timestamp) EpochMillis() int64 {
	return t.UnixMilli()
}

// AsEpochMillis returns a copy that marshals as an epoch-millisecond integer
// instead of an RFC 3339 string. The flag affects encoding only; it does not
// survive a decode round trip.
func (t Timestamp) AsEpochMillis() Timestamp {
	t.asEpochMillis = true
	return t
}

// MarshalJSON encodes as an RFC 3339 string, or an epoch-millisecond
// integer when flagged via AsEpochMillis.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	if t.asEpochMillis {
		return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// layouts accepted on read, tried in order. The zone-less forms cover
// producers that stamp naive local/UTC times.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON accepts an RFC 3339 string, an epoch-millisecond integer,
// or an empty/null value (which leaves the timestamp zero).
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}

	if s[0] != '"' {
		millis, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing timestamp %s: %w", s, err)
		}
		t.Time = time.UnixMilli(millis).UTC()
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, str); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp format %q", str)
}
