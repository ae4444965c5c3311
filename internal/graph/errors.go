package graph

import (
	"errors"
	"fmt"
	"strings"
)

var ErrCycleFound = errors.New("loop found")

// CycleError carries one witness cycle, first node repeated at the end.
type CycleError[N comparable] struct {
	Path []N
}

func (e *CycleError[N]) Error() string {
	if len(e.Path) == 0 {
		return ErrCycleFound.Error()
	}
	parts := make([]string, len(e.Path))
	for i, n := range e.Path {
		parts[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s: %s", ErrCycleFound, strings.Join(parts, " -> "))
}

func (e *CycleError[N]) Unwrap() error { return ErrCycleFound }
