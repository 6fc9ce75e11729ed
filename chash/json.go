package chash

import "encoding/json"

// MarshalJSON encodes the hash as a lowercase hex string, matching the
// on-disk IndexEntry JSON shape in spec.md section 6.2.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes a lowercase hex string into a Hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
