package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type armRequest struct {
	Source string `json:"source"`
}

type disarmRequest struct {
	Credential string `json:"credential"`
	Source     string `json:"source"`
}

type overrideRequest struct {
	Value  *float64 `json:"value"`
	Source string   `json:"source"`
}

type tagScanMessage struct {
	TagID     string    `json:"tag_id"`
	Timestamp time.Time `json:"timestamp"`
}

// stateMessage is retained on {prefix}/state/{role}.
type stateMessage struct {
	Value     float64   `json:"value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// alarmMessage is retained on {prefix}/alarm.
type alarmMessage struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// modeMessage is retained on {prefix}/mode.
type modeMessage struct {
	Mode      string    `json:"mode"`
	Altitude  float64   `json:"altitude"`
	Timestamp time.Time `json:"timestamp"`
}

// healthMessage is retained on {prefix}/health/{device}.
type healthMessage struct {
	Status    string    `json:"status"`
	Address   string    `json:"address"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// levelMessage is retained on {prefix}/level/{name}.
type levelMessage struct {
	Percent   float64   `json:"percent"`
	Active    int       `json:"active"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// decodeOptional unmarshals payload into v, treating an empty payload as {}.
func decodeOptional(payload []byte, v any) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// parseOverride accepts a JSON object or a bare on/off/1/0 payload.
func parseOverride(payload []byte) (overrideRequest, error) {
	text := strings.TrimSpace(string(payload))
	switch strings.ToLower(strings.Trim(text, `"`)) {
	case "on", "true":
		v := 1.0
		return overrideRequest{Value: &v}, nil
	case "off", "false":
		v := 0.0
		return overrideRequest{Value: &v}, nil
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return overrideRequest{Value: &v}, nil
	}

	var req overrideRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if req.Value == nil {
		return req, fmt.Errorf("%w: missing value", ErrInvalidPayload)
	}
	return req, nil
}
