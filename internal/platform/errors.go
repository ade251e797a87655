package platform

import (
	"encoding/json"
	"fmt"
	"strings"
)

type TransportError struct {
	Status int
	Detail string
	Body   json.RawMessage
}

func (e *TransportError) Error() string {
	if strings.TrimSpace(e.Detail) == "" {
		return fmt.Sprintf("cribops api status=%d", e.Status)
	}
	return fmt.Sprintf("cribops api status=%d detail=%s", e.Status, e.Detail)
}

type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cribops api unreachable: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

type RegistrationError struct {
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("webhook %s failed: %v", e.Op, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

func errorDetail(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return trimmed
	}
	for _, key := range []string{"message", "error", "detail", "errors"} {
		value, ok := parsed[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		default:
			encoded, err := json.Marshal(v)
			if err == nil && len(encoded) > 0 {
				return string(encoded)
			}
		}
	}
	return trimmed
}
