// Package dispatch routes structured commands to built-ins and providers.
package dispatch

import "github.com/opentalon/commandcenter/internal/command"

// Code distinguishes failure kinds. Successful results carry CodeOK.
type Code string

const (
	CodeOK             Code = ""
	CodeParseError     Code = "parse_error"
	CodeUnknownCommand Code = "unknown_command"
	CodeProviderError  Code = "provider_error"
	CodeWorkflowError  Code = "workflow_error"
)

// Result is the outcome of one dispatch.
type Result struct {
	OK          bool               `json:"ok"`
	Code        Code               `json:"code,omitempty"`
	Message     string             `json:"message"`
	Suggestions []string           `json:"suggestions,omitempty"`
	Command     command.Structured `json:"command"`
}

// Success builds an OK result.
func Success(cmd command.Structured, msg string) Result {
	return Result{OK: true, Message: msg, Command: cmd}
}

// Failure builds a failed result with the given code.
func Failure(cmd command.Structured, code Code, msg string) Result {
	return Result{Code: code, Message: msg, Command: cmd}
}
