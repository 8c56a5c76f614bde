package eventlog

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled CEL predicate over stored records. The zero value
// matches everything.
//
// Variables: class (string), index, priority, event_id, timestamp, size,
// offset (int), sent (bool) and pairs (map of key to hex value).
type Filter struct {
	prog    cel.Program
	enabled bool
}

// CompileFilter compiles expr. An empty expression yields a match-all filter.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("class", cel.StringType),
		cel.Variable("index", cel.IntType),
		cel.Variable("priority", cel.IntType),
		cel.Variable("event_id", cel.IntType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("sent", cel.BoolType),
		cel.Variable("pairs", cel.MapType(cel.IntType, cel.StringType)),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("%w: filter: %v", ErrInvalid, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("%w: filter must be boolean, got %s", ErrInvalid, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter. Evaluation errors count as no match.
func (f Filter) Match(c Class, rec Record) bool {
	if !f.enabled {
		return true
	}
	pairs := make(map[int64]string, len(rec.Pairs))
	for _, p := range rec.Pairs {
		pairs[int64(p.Key)] = hex.EncodeToString(p.Value)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"class":     c.String(),
		"index":     int64(rec.AlarmIndex),
		"priority":  int64(rec.Priority),
		"event_id":  int64(rec.EventID),
		"timestamp": int64(rec.Timestamp),
		"size":      int64(rec.Size),
		"offset":    int64(rec.Offset),
		"sent":      rec.Sent,
		"pairs":     pairs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
