package engine

import "fmt"

type Kind string

const (
	// KindMalformed is input that could not be read.
	KindMalformed Kind = "malformed"
	// KindStructure is input that reads fine but breaks a graph or data rule.
	KindStructure Kind = "structure"
	// KindForbidden is input touching tasks or users the actor may not edit.
	KindForbidden Kind = "forbidden"
)

// ViolationError rejects a request as a whole. Nothing was written.
type ViolationError struct {
	Kind Kind
	Msg  string
}

func (e *ViolationError) Error() string { return e.Msg }

func violation(kind Kind, format string, args ...any) error {
	return &ViolationError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
