package artifact

import "encoding/json"

// MarshalScreenshot serialises a Screenshot to JSON.
func MarshalScreenshot(s *Screenshot) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalScreenshot deserialises a Screenshot from JSON.
func UnmarshalScreenshot(data []byte) (*Screenshot, error) {
	var s Screenshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MarshalDiff serialises a VisualDiff to JSON.
func MarshalDiff(d *VisualDiff) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDiff deserialises a VisualDiff from JSON.
func UnmarshalDiff(data []byte) (*VisualDiff, error) {
	var d VisualDiff
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
