package expr

import (
	"context"
	"fmt"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// programs caches compiled conditions by source text.
var programs sync.Map

// Evaluate compiles expression once and runs it against vars.
// Its signature matches ports.ConditionEvaluator.
func Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	program, err := compile(expression)
	if err != nil {
		return false, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := vm.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return truthy(out), nil
}

func compile(expression string) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("empty condition")
	}
	if p, ok := programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	// Variables are only known at run time, so every identifier is untyped
	// and a missing one is nil.
	p, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	programs.Store(expression, p)
	return p, nil
}

// truthy maps a result to a branch decision: nil, false, "" and zero
// numbers are false.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}
