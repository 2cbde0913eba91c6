package testutil

import "encoding/json"

func unmarshalJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// MustMarshal marshals v or panics. For building test payloads.
func MustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
