// Package timex provides a time.Duration wrapper that can be read from JSON
// either as a Go duration string ("30s", "1m30s") or as integer nanoseconds.
package timex

import (
	"encoding/json"
	"fmt"
	"time"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	return fmt.Errorf("invalid duration %s", string(b))
}

// Durations is a list of Duration, used for reconnect delay ladders.
type Durations []Duration

// Std converts the list into plain time.Duration values.
func (ds Durations) Std() []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d.Duration
	}
	return out
}

// FromStd wraps plain durations.
func FromStd(in []time.Duration) Durations {
	out := make(Durations, len(in))
	for i, d := range in {
		out[i] = Duration{Duration: d}
	}
	return out
}
