package dispatch

import (
	"fmt"
	"net/http"
)

// Code classifies a failed dispatch.
type Code string

const (
	CodeBadRequest Code = "BadRequest"
	CodeNotFound   Code = "NotFound"
	// CodeUnavailable is only produced by transports, when a message could not
	// be handed to the dispatcher at all.
	CodeUnavailable Code = "Unavailable"
)

// Stage is a step of the convert pipeline.
type Stage string

const (
	StageReceived  Stage = "received"
	StageDecoding  Stage = "decoding"
	StageRouted    Stage = "routed"
	StageParsing   Stage = "parsing"
	StageRendering Stage = "rendering"
	StageResolved  Stage = "resolved"
)

// Error is a rejected dispatch. Message is what callers see; Err keeps the
// underlying cause for logs and errors.Is/As.
type Error struct {
	Status  int
	Code    Code
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatch: %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Reply converts e into a failed Reply.
func (e *Error) Reply() Reply {
	return Reply{
		Status: e.Status,
		Result: &ErrorBody{Code: e.Code, Message: e.Message},
	}
}

func badRequest(stage Stage, message string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Stage: stage, Message: message, Err: err}
}

func notFound(stage Stage, message string, err error) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Stage: stage, Message: message, Err: err}
}
