package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vitalpath/rxbridge/internal/pharmacy"
)

// ErrForbiddenState rejects a submission before any network call when the
// patient's shipping state is on the pharmacy's forbidden list.
var ErrForbiddenState = errors.New("submission: pharmacy cannot ship to the patient's state")

// ValidationError carries the per-field schema violations that blocked a
// submission attempt.
type ValidationError struct {
	Fields []*pharmacy.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "submission blocked by validation: " + strings.Join(msgs, "; ")
}

// APIError is a pharmacy API rejection, parsed into displayable messages.
type APIError struct {
	Pharmacy string
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s rejected the submission (%d): %s",
		e.Pharmacy, e.Status, strings.Join(e.Messages, "; "))
}

// Display joins the parsed messages one per line for the operator.
func (e *APIError) Display() string {
	return strings.Join(e.Messages, "\n")
}

// apiEnvelope covers the response shapes the pharmacy APIs use for
// rejections.
type apiEnvelope struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// ParseAPIError turns a non-2xx response body into an APIError. Some
// pharmacy APIs pack several errors into one brace-wrapped,
// semicolon-delimited string; those are split into individual messages.
// Anything unparseable falls back to the raw body text.
func ParseAPIError(name string, status int, body []byte) *APIError {
	message := strings.TrimSpace(string(body))

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.Message != "":
			message = env.Message
		case env.Error != "":
			message = env.Error
		case env.Detail != "":
			message = env.Detail
		}
	}

	return &APIError{
		Pharmacy: name,
		Status:   status,
		Messages: splitMessages(message, status),
	}
}

func splitMessages(message string, status int) []string {
	message = strings.TrimSpace(message)
	if message == "" {
		return []string{fmt.Sprintf("submission failed with status %d", status)}
	}

	if strings.HasPrefix(message, "{") && strings.HasSuffix(message, "}") {
		inner := strings.TrimSpace(message[1 : len(message)-1])
		var out []string
		for _, part := range strings.Split(inner, ";") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{message}
}
