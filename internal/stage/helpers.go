package stage

import (
	"bytes"
	"encoding/json"

	"framepipe/internal/services"
)

// DecodePayload unmarshals the activity payload into dst. Malformed payloads
// fail as invalid input so they are never retried.
func DecodePayload(in Input, dst any) error {
	raw := bytes.TrimSpace(in.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return services.Wrap(services.ErrInvalidInput, in.Stage, "decode payload", "payload is empty", nil)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return services.Wrap(services.ErrInvalidInput, in.Stage, "decode payload", "payload is malformed", err)
	}
	return nil
}

// EncodeOutput marshals an activity result.
func EncodeOutput(stageName string, v any) (Output, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, services.Wrap(services.ErrExecution, stageName, "encode output", "result is not serializable", err)
	}
	return data, nil
}
