// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package context defines the Context, which holds the hyperparameters used to build and train a model,
// organized in scopes.
//
// Hyperparameters are looked up from the current scope back to the root scope ("/"), so a value
// set in the root scope works as a default for every scope. Typical usage:
//
//	ctx := context.New()
//	ctx.SetParams(map[string]any{
//		"batch_size":    64,
//		"learning_rate": 0.003,
//		"optimizer":     "adam",
//	})
//	lr := context.GetParamOr(ctx, "learning_rate", 0.01)
package context

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/mlptrain/internal/scoped"
)

// ScopeSeparator is used between levels of scope. Scope names cannot use this character.
const ScopeSeparator = "/"

// RootScope is the scope at the very root.
const RootScope = ScopeSeparator

// Context holds hyperparameters in scopes. A Context object is a reference to a scope:
// contexts created with In share the same underlying parameters.
type Context struct {
	scope  string
	params *scoped.Params
}

// New returns an empty Context pointing to the root scope.
func New() *Context {
	return &Context{scope: RootScope, params: scoped.New(ScopeSeparator)}
}

// Clone returns a new Context, pointing to the same scope, with a copy of the parameters.
func (ctx *Context) Clone() *Context {
	return &Context{scope: ctx.scope, params: ctx.params.Clone()}
}

// Scope returns the full scope path.
func (ctx *Context) Scope() string { return ctx.scope }

// In returns a new reference to the Context with the extra given scope. No ScopeSeparator ("/") is
// allowed in scope.
func (ctx *Context) In(scope string) *Context {
	if scope == "" {
		exceptions.Panicf("cannot use empty scope for Context.In()")
	}
	if strings.Contains(scope, ScopeSeparator) {
		exceptions.Panicf("cannot use separator %q in scope element %q", ScopeSeparator, scope)
	}
	newCtx := *ctx
	if ctx.scope == RootScope {
		newCtx.scope = ScopeSeparator + scope
	} else {
		newCtx.scope = ctx.scope + ScopeSeparator + scope
	}
	return &newCtx
}

// InAbsPath returns a new reference to the Context pointing to the given absolute scope path.
// The path must start with ScopeSeparator.
func (ctx *Context) InAbsPath(scopePath string) *Context {
	if !strings.HasPrefix(scopePath, ScopeSeparator) {
		exceptions.Panicf("InAbsPath(%q) requires an absolute path, starting with %q", scopePath, ScopeSeparator)
	}
	newCtx := *ctx
	newCtx.scope = RootScope
	if scopePath != RootScope {
		newCtx.scope = strings.TrimSuffix(scopePath, ScopeSeparator)
	}
	return &newCtx
}

// SplitScope splits an absolute parameter path like "/a/b/x" into its scope ("/a/b") and name ("x").
// Paths that don't start with ScopeSeparator are returned with an empty scope.
func SplitScope(paramPath string) (scope, name string) {
	if !strings.HasPrefix(paramPath, ScopeSeparator) {
		return "", paramPath
	}
	idx := strings.LastIndex(paramPath, ScopeSeparator)
	scope, name = paramPath[:idx], paramPath[idx+1:]
	if scope == "" {
		scope = RootScope
	}
	return
}

// GetParam returns the value for the given param key, searching successively from
// the current scope back to the root scope ("/"), in case the key is not found.
//
// See also GetParamOr to get a parameter with a default, if one doesn't exist.
func (ctx *Context) GetParam(key string) (value any, found bool) {
	return ctx.params.Get(ctx.scope, key)
}

// SetParam sets the given param in the current scope. It will be visible (by GetParam)
// within this scope and descendant scopes (but not by other scopes).
func (ctx *Context) SetParam(key string, value any) {
	ctx.params.Set(ctx.scope, key, value)
}

// SetParams sets a collection of parameters in the current scope.
//
// This is a shortcut to multiple calls to `Context.SetParam` and the same observations apply.
func (ctx *Context) SetParams(keyValues map[string]any) {
	for key, value := range keyValues {
		ctx.params.Set(ctx.scope, key, value)
	}
}

// EnumerateParams enumerates all parameters for all scopes, sorted by scope and key, and calls fn with their values.
func (ctx *Context) EnumerateParams(fn func(scope, key string, value any)) {
	ctx.params.Enumerate(fn)
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// MustGetParam is like GetParam, but panics if the parameter is not found, or if it can't be converted to type T.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// Strings are converted with encoding.TextUnmarshaler if T implements it.
func MustGetParam[T any](ctx *Context, key string) T {
	var t T
	valueAny, found := ctx.GetParam(key)
	if !found {
		exceptions.Panicf("parameter %q (of type %T) not found in scope %q (and its parents)", key, t, ctx.Scope())
	}
	if value, ok := valueAny.(T); ok {
		return value
	}

	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	valueT := reflect.New(typeOfT)
	if valueT.Type().Implements(textUnmarshalerType) && v.Kind() == reflect.String {
		if err := valueT.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(v.String())); err != nil {
			exceptions.Panicf("can't UnmarshalText %q to %s for parameter %q: %v", v.String(), typeOfT, key, err)
		}
		return valueT.Elem().Interface().(T)
	}
	if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("MustGetParam/GetParamOr[%T](ctx, %q): ctx(scope=%q)[%q]=(%T) %#v, and cannot be converted to %T",
			t, key, ctx.Scope(), key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetParamOr either returns the value for the given param key in the context `ctx`,
// searching successively from the current scope back to the root scope ("/"), or if the
// key is not found, returns the given default value.
//
// It tries to cast the value to the given type. If it fails, it tries to convert the
// value to the given type (so an `int` will be converted to a `float64` transparently).
// If that also fails, it panics.
func GetParamOr[T any](ctx *Context, key string, defaultValue T) T {
	valueAny, found := ctx.GetParam(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	return MustGetParam[T](ctx, key)
}

// String returns all the parameters, one per line.
func (ctx *Context) String() string {
	var sb strings.Builder
	ctx.EnumerateParams(func(scope, key string, value any) {
		_, _ = fmt.Fprintf(&sb, "%s:%s=%v\n", scope, key, value)
	})
	return sb.String()
}
