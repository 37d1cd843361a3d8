package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrValidationFailed matches any error returned by Validate.
var ErrValidationFailed = errors.New("validation failed")

// ParseError reports a host.toml that could not be decoded, including
// keys the configuration does not know.
type ParseError struct {
	Path string

	// Line and Column are 1-based, or 0 when the decoder gave no position.
	Line   int
	Column int

	Message string
	Err     error
}

// newParseError pulls the position and the offending keys out of a
// go-toml decode error.
func newParseError(path string, err error) *ParseError {
	pe := &ParseError{Path: path, Message: err.Error(), Err: err}

	var decErr *toml.DecodeError
	if errors.As(err, &decErr) {
		pe.Line, pe.Column = decErr.Position()
	}
	var strictErr *toml.StrictMissingError
	if errors.As(err, &strictErr) {
		pe.Message = strings.TrimSpace(strictErr.String())
	}
	return pe
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Path)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ":%d", e.Column)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError is one rejected setting, addressed by its dotted key.
type ValidationError struct {
	Path    string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s (got %v)", e.Path, e.Message, e.Value)
}

// ValidationErrors is every rejected setting, in check order.
type ValidationErrors []*ValidationError

func (e *ValidationErrors) add(path, msg string, value any) {
	*e = append(*e, &ValidationError{Path: path, Message: msg, Value: value})
}

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidationFailed
}
