package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	pe := asError(err)
	if pe == nil {
		pe = Wrap(KindInternal, "", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", pe.Message))
	if pe.Hint != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", pe.Hint))
	}
	sb.WriteString(fmt.Sprintf("  Kind: %s\n", pe.Kind))
	return sb.String()
}

// jsonError is the wire representation of an error.
type jsonError struct {
	Kind          string            `json:"kind"`
	Code          int               `json:"code"`
	Message       string            `json:"message"`
	Op            string            `json:"op,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	Hint          string            `json:"hint,omitempty"`
	Cause         string            `json:"cause,omitempty"`
	Retryable     bool              `json:"retryable"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// FormatJSON returns the JSON representation used by the CLI and MCP
// error payloads.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	pe := asError(err)
	if pe == nil {
		pe = Wrap(KindInternal, "", err)
	}

	je := jsonError{
		Kind:          pe.Kind.String(),
		Code:          int(pe.Kind),
		Message:       pe.Message,
		Op:            pe.Op,
		Details:       pe.Details,
		Hint:          pe.Hint,
		Retryable:     pe.Retryable,
		CorrelationID: pe.CorrelationID,
	}
	if pe.Cause != nil {
		je.Cause = pe.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog returns slog attributes for structured logging.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	pe := asError(err)
	if pe == nil {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_kind": pe.Kind.String(),
		"error_code": int(pe.Kind),
		"message":    pe.Message,
		"retryable":  pe.Retryable,
	}
	if pe.Op != "" {
		result["op"] = pe.Op
	}
	if pe.Cause != nil {
		result["cause"] = pe.Cause.Error()
	}
	if pe.CorrelationID != "" {
		result["correlation_id"] = pe.CorrelationID
	}
	for k, v := range pe.Details {
		result["detail_"+k] = v
	}
	return result
}
