package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Yates-Labs/medrag/internal/narrative"
)

// Request is one tool invocation against a session. The set of variants is
// closed: AskRequest, SummarizeRequest and InterpretLabRequest.
type Request interface {
	// Query lowers the request to the question text sent through Answer.
	Query() (string, error)

	isRequest()
}

// AskRequest is a free-form question about the patient's documents.
type AskRequest struct {
	Question string `json:"question"`
}

// SummarizeRequest asks for a summary of the session's uploaded report.
type SummarizeRequest struct{}

// InterpretLabRequest asks for an interpretation of one named test.
type InterpretLabRequest struct {
	TestName string `json:"test_name"`
}

func (AskRequest) isRequest()          {}
func (SummarizeRequest) isRequest()    {}
func (InterpretLabRequest) isRequest() {}

// Query prefixes the question with the patient-first directive.
func (r AskRequest) Query() (string, error) {
	q := strings.TrimSpace(r.Question)
	if q == "" {
		return "", fmt.Errorf("%w: question cannot be empty", ErrInvalidRequest)
	}
	return narrative.PatientFirst(q), nil
}

// Query returns the fixed summary prompt with the patient-first directive.
func (SummarizeRequest) Query() (string, error) {
	return narrative.PatientFirst(narrative.SummarizePrompt), nil
}

// Query builds the interpretation prompt for the named test.
func (r InterpretLabRequest) Query() (string, error) {
	name := strings.TrimSpace(r.TestName)
	if name == "" {
		return "", fmt.Errorf("%w: test name cannot be empty", ErrInvalidRequest)
	}
	return narrative.PatientFirst(narrative.InterpretLabPrompt(name)), nil
}
