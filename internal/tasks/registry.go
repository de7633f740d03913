// Package tasks holds the job registry: the fixed set of task names workers
// know how to run and the handlers behind them.
//
// Handlers must be idempotent. The broker delivers at least once, so a job
// whose worker died mid-run is handed to another worker and runs again.
package tasks

import (
	"context"
	"fmt"
	"sort"

	"github.com/stopro/ai-taskqueue/internal/models"
)

// TaskName identifies a registered handler. It is string-backed because
// messages carry the name on the wire and may name tasks this build does
// not know.
type TaskName string

const (
	ProcessSolutionImage TaskName = "process_solution_image"
	CheckMathAnswer      TaskName = "check_math_answer"
)

func (n TaskName) String() string { return string(n) }

// Handler executes one job. A returned error is recorded as the job's
// failure; the returned value must be JSON-serializable.
type Handler interface {
	Run(ctx context.Context, args models.Arguments) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args models.Arguments) (any, error)

func (f HandlerFunc) Run(ctx context.Context, args models.Arguments) (any, error) {
	return f(ctx, args)
}

// Registry maps task names to handlers. It is immutable once built, so
// concurrent lookups need no locking.
type Registry struct {
	handlers map[TaskName]Handler
}

// NewRegistry copies handlers into a new registry.
func NewRegistry(handlers map[TaskName]Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[TaskName]Handler, len(handlers))}
	for name, h := range handlers {
		if name == "" {
			return nil, fmt.Errorf("empty task name")
		}
		if h == nil {
			return nil, fmt.Errorf("task %s: nil handler", name)
		}
		r.handlers[name] = h
	}
	return r, nil
}

// Default returns the registry served by production workers.
func Default(ocr OCREngine) *Registry {
	r, _ := NewRegistry(map[TaskName]Handler{
		ProcessSolutionImage: HandlerFunc(processSolutionImage(ocr)),
		CheckMathAnswer:      HandlerFunc(checkMathAnswer),
	})
	return r
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[TaskName(name)]
	return h, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}
