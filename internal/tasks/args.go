package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// ArgumentError means a job's arguments did not match the handler's
// signature. Workers record it as a serialization failure.
type ArgumentError struct {
	Name string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %s: %v", e.Name, e.Err)
}

func (e *ArgumentError) Unwrap() []error {
	return []error{models.ErrSerialization, e.Err}
}

// decodeArg decodes the argument at position pos, or the keyword argument
// name when fewer positional arguments were sent.
func decodeArg(args models.Arguments, pos int, name string, v any) error {
	var raw json.RawMessage
	switch {
	case pos < len(args.Args):
		raw = args.Args[pos]
	case args.Kwargs[name] != nil:
		raw = args.Kwargs[name]
	default:
		return &ArgumentError{Name: name, Err: fmt.Errorf("missing")}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ArgumentError{Name: name, Err: err}
	}
	return nil
}
