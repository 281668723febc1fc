// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ParseContextSettings from settings, typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "learning_rate=0.01;batch_size=128;...".
//
// All the parameters must be already set with default values in the root scope of `ctx`.
// The default values define the type to which the string values are parsed.
//
// A scope can be given with an absolute path: "/eval/batch_size=1000" sets "batch_size" only
// for the scope "/eval", as long as a default "batch_size" is defined in the root scope.
//
// An entry "file:<path>" reads the settings from the file, one or more per line. Empty lines and
// lines starting with "#" are ignored.
//
// For integer types "_" is removed, so large numbers can be written as in Go: 1_000_000.
//
// It returns the list of parameter paths set, in order.
func ParseContextSettings(ctx *context.Context, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseContextSetting(ctx, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseContextSetting(ctx *context.Context, setting string, paramsSet []string) ([]string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, isFile := strings.CutPrefix(setting, "file:"); isFile {
		return parseContextSettingsFile(ctx, filePath, paramsSet)
	}

	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found || strings.Contains(valueStr, "=") {
		return paramsSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
	}
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return paramsSet, errors.Errorf("can't set parameter %q: scoped parameters must be absolute (start with %q)",
			paramPath, context.ScopeSeparator)
	}
	defaultValue, found := ctx.InAbsPath(context.RootScope).GetParam(paramName)
	if !found {
		return paramsSet, errors.Errorf("can't set parameter %q: %q is not known in the root scope", paramPath, paramName)
	}
	value, err := parseValueLike(defaultValue, valueStr)
	if err != nil {
		return paramsSet, errors.WithMessagef(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, paramPath, defaultValue)
	}
	ctxInScope := ctx.InAbsPath(context.RootScope)
	if paramScope != "" {
		ctxInScope = ctx.InAbsPath(paramScope)
	}
	ctxInScope.SetParam(paramName, value)
	return append(paramsSet, paramPath), nil
}

func parseContextSettingsFile(ctx *context.Context, filePath string, paramsSet []string) ([]string, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return paramsSet, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, setting := range strings.Split(line, ";") {
			paramsSet, err = parseContextSetting(ctx, setting, paramsSet)
			if err != nil {
				return paramsSet, err
			}
		}
	}
	return paramsSet, nil
}

func parseInt(str string) (int64, error) {
	return strconv.ParseInt(strings.ReplaceAll(str, "_", ""), 10, 64)
}

// parseList parses a comma-separated list with the given element parser.
func parseList[T any](valueStr string, parseFn func(string) (T, error)) ([]T, error) {
	if valueStr == "" {
		return []T{}, nil
	}
	parts := strings.Split(valueStr, ",")
	values := make([]T, 0, len(parts))
	for _, part := range parts {
		v, err := parseFn(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// parseValueLike parses valueStr into a value of the same type as defaultValue.
func parseValueLike(defaultValue any, valueStr string) (value any, err error) {
	switch defaultValue.(type) {
	case int:
		var v int64
		v, err = parseInt(valueStr)
		value = int(v)
	case int64:
		value, err = parseInt(valueStr)
	case uint64:
		value, err = strconv.ParseUint(strings.ReplaceAll(valueStr, "_", ""), 10, 64)
	case float64:
		value, err = strconv.ParseFloat(valueStr, 64)
	case float32:
		var v float64
		v, err = strconv.ParseFloat(valueStr, 32)
		value = float32(v)
	case bool:
		value, err = strconv.ParseBool(valueStr)
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value, err = parseList(valueStr, func(str string) (int, error) {
			v, err := parseInt(str)
			return int(v), err
		})
	case []float64:
		value, err = parseList(valueStr, func(str string) (float64, error) {
			return strconv.ParseFloat(str, 64)
		})
	default:
		err = errors.Errorf("don't know how to parse values of type %T", defaultValue)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

// CreateContextSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters currently defined in the root scope of `ctx`.
//
// The flag should be created before the call to `flag.Parse()`:
//
//	func main() {
//		ctx := createDefaultContext()
//		settings := commandline.CreateContextSettingsFlag(ctx, "")
//		flag.Parse()
//		paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
//		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
//		...
//	}
func CreateContextSettingsFlag(ctx *context.Context, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{fmt.Sprintf(
		`Set hyperparameters, as a list of "param=value" separated by ";". `+
			`Scoped settings use absolute paths separated by %q, e.g. "/eval/batch_size=1000". `+
			`An entry "file:<path>" reads settings from a file, one per line, and lines starting with "#" are comments. `+
			`Available parameters:`,
		context.ScopeSeparator)}
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	})
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintContextSettings pretty-prints the values of all hyperparameters into a string.
func SprintContextSettings(ctx *context.Context) string {
	var parts []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			scope = ""
		}
		parts = append(parts, fmt.Sprintf("\t\"%s/%s\": (%T) %v", scope, key, value, value))
	})
	return strings.Join(parts, "\n")
}

// SprintModifiedContextSettings pretty-prints the values of the parameters in paramsSet, as returned
// by ParseContextSettings.
func SprintModifiedContextSettings(ctx *context.Context, paramsSet []string) string {
	var parts []string
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	for _, paramPath := range slices.Compact(paramsSet) {
		paramScope, paramName := context.SplitScope(paramPath)
		if paramScope == "" {
			paramScope = context.RootScope
		}
		value, found := ctx.InAbsPath(paramScope).GetParam(paramName)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
	}
	return strings.Join(parts, "\n")
}
