package wire

import (
	"encoding/json"
	"fmt"

	"github.com/stratadb/stratadb/pkg/value"
)

// Expected is the CAS predicate input: either a concrete Value the caller
// expects to find, or the Absent predicate meaning "no live value". It is a
// distinct, encodable predicate from Value itself, per §3.4/§6.3.
type Expected struct {
	absent bool
	value  value.Value
}

func ExpectedValue(v value.Value) Expected { return Expected{value: v} }
func ExpectedAbsent() Expected             { return Expected{absent: true} }

func (e Expected) IsAbsent() bool          { return e.absent }
func (e Expected) Value() (value.Value, bool) {
	if e.absent {
		return value.Value{}, false
	}
	return e.value, true
}

func MarshalExpected(e Expected) ([]byte, error) {
	if e.absent {
		return json.Marshal(map[string]bool{"$absent": true})
	}
	return MarshalValue(e.value)
}

func UnmarshalExpected(data []byte) (Expected, error) {
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["$absent"]; ok && len(probe) == 1 {
			return ExpectedAbsent(), nil
		}
	}
	v, err := UnmarshalValue(data)
	if err != nil {
		return Expected{}, fmt.Errorf("wire: decode expected: %w", err)
	}
	return ExpectedValue(v), nil
}
