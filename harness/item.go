package harness

import (
	"context"
	"reflect"
	"testing"
	"time"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	tbType      = reflect.TypeOf((*testing.TB)(nil)).Elem()
	tType       = reflect.TypeOf((*testing.T)(nil))
)

// IsAsync reports whether fn runs inside a unit of work, i.e. its declared
// signature takes a context.Context as the first parameter. Functions that
// take a context anywhere else are treated as synchronous.
func IsAsync(fn reflect.Value) bool {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return false
	}
	ft := fn.Type()
	return ft.NumIn() > 0 && ft.In(0) == contextType
}

// Item is a single test invocation that is about to run. Hooks may replace
// Func before proceeding; Args are resolved before any hook runs and must not
// be changed.
type Item struct {
	Name string
	Func reflect.Value
	Args []reflect.Value

	original reflect.Value
}

// Original returns the test function as it was registered.
func (it *Item) Original() reflect.Value {
	return it.original
}

// Outcome is the result of invoking an Item.
type Outcome struct {
	Err      error // returned by the test function
	Panic    any   // recovered from the test function
	Duration time.Duration
}

// Failed reports whether the invocation returned an error or panicked.
func (o Outcome) Failed() bool {
	return o.Err != nil || o.Panic != nil
}

// Hook wraps the invocation of every test function. Implementations run code
// before and after calling proceed and must return proceed's Outcome.
type Hook interface {
	WrapCall(item *Item, proceed func() Outcome) Outcome
}

// HookFunc adapts a function to Hook.
type HookFunc func(item *Item, proceed func() Outcome) Outcome

// WrapCall implements Hook.
func (f HookFunc) WrapCall(item *Item, proceed func() Outcome) Outcome {
	return f(item, proceed)
}
