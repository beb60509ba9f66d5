// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// CreateContextSettingsFlag creates a string flag named flagName (default "set") listing in its usage the
// hyperparameters defined in the root scope of ctx. It must be called before flag.Parse.
//
// Example:
//
//	ctx := mst.CreateDefaultContext()
//	settings := commandline.CreateContextSettingsFlag(ctx, "")
//	flag.Parse()
//	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
func CreateContextSettingsFlag(ctx *context.Context, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	var usage strings.Builder
	usage.WriteString(`Hyperparameters to set, as a list of "param=value" separated by ";". ` +
		`An element "file:<path>" reads settings from a file, one or more per line, "#" starting a comment. ` +
		`Known parameters:`)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			fmt.Fprintf(&usage, "\n%q: default value is %v", key, value)
		}
	})
	return flag.String(flagName, "", usage.String())
}

// ParseContextSettings parses settings ("param1=value1;param2=value2;...") into ctx and returns the
// paths of the parameters set.
//
// Every parameter must already have a default in the root scope of ctx: its type drives the parsing. A parameter
// can be set in a sub-scope with an absolute path, like "/decoder/learning_rate=1e-4". Integers accept "_"
// as a digit separator.
func ParseContextSettings(ctx *context.Context, settings string) (paramsSet []string, err error) {
	for setting := range strings.SplitSeq(settings, ";") {
		if paramsSet, err = parseSetting(ctx, strings.TrimSpace(setting), paramsSet); err != nil {
			return nil, err
		}
	}
	return paramsSet, nil
}

func parseSetting(ctx *context.Context, setting string, paramsSet []string) ([]string, error) {
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		return parseSettingsFile(ctx, filePath, paramsSet)
	}

	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found {
		return nil, errors.Errorf("can't parse setting %q: the format is \"<param>=<value>\"", setting)
	}
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		return nil, errors.Errorf("can't set parameter %q: scoped parameters must be absolute (start with %q)",
			paramPath, context.ScopeSeparator)
	}
	defaultValue, found := ctx.GetParam(paramName)
	if !found {
		return nil, errors.Errorf("unknown parameter %q in setting %q", paramName, setting)
	}
	value, err := parseValue(defaultValue, valueStr)
	if err != nil {
		return nil, errors.WithMessagef(err, "parameter %q (default value %#v)", paramPath, defaultValue)
	}
	target := ctx
	if paramScope != "" {
		target = ctx.InAbsPath(paramScope)
	}
	target.SetParam(paramName, value)
	return append(paramsSet, paramPath), nil
}

func parseSettingsFile(ctx *context.Context, filePath string, paramsSet []string) ([]string, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for line := range strings.Lines(string(contents)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for setting := range strings.SplitSeq(line, ";") {
			if paramsSet, err = parseSetting(ctx, strings.TrimSpace(setting), paramsSet); err != nil {
				return nil, errors.WithMessagef(err, "in settings file %q", filePath)
			}
		}
	}
	return paramsSet, nil
}

// parseValue parses valueStr to the type of defaultValue.
func parseValue(defaultValue any, valueStr string) (value any, err error) {
	intStr := strings.ReplaceAll(valueStr, "_", "")
	switch defaultValue.(type) {
	case int:
		value, err = strconv.Atoi(intStr)
	case int32:
		value, err = parseInt[int32](intStr, 32)
	case int64:
		value, err = parseInt[int64](intStr, 64)
	case uint64:
		var v uint64
		v, err = strconv.ParseUint(intStr, 10, 64)
		value = v
	case float32:
		var v float64
		v, err = strconv.ParseFloat(valueStr, 32)
		value = float32(v)
	case float64:
		value, err = strconv.ParseFloat(valueStr, 64)
	case bool:
		value, err = strconv.ParseBool(valueStr)
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		parts := strings.Split(strings.ReplaceAll(valueStr, "_", ""), ",")
		ints := make([]int, len(parts))
		for ii, part := range parts {
			if ints[ii], err = strconv.Atoi(part); err != nil {
				break
			}
		}
		value = ints
	case []float64:
		parts := strings.Split(valueStr, ",")
		floats := make([]float64, len(parts))
		for ii, part := range parts {
			if floats[ii], err = strconv.ParseFloat(part, 64); err != nil {
				break
			}
		}
		value = floats
	default:
		return nil, errors.Errorf("don't know how to parse values of type %T", defaultValue)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse value %q", valueStr)
	}
	return value, nil
}

func parseInt[T int32 | int64](s string, bitSize int) (T, error) {
	v, err := strconv.ParseInt(s, 10, bitSize)
	return T(v), err
}

// SprintModifiedContextSettings pretty-prints the current values of the parameters in paramsSet, sorted and
// without duplicates.
func SprintModifiedContextSettings(ctx *context.Context, paramsSet []string) string {
	paramsSet = slices.Compact(slices.Sorted(slices.Values(paramsSet)))
	lines := make([]string, 0, len(paramsSet))
	for _, paramPath := range paramsSet {
		paramScope, paramName := context.SplitScope(paramPath)
		if paramScope == "" {
			paramScope = context.RootScope
		}
		if value, found := ctx.InAbsPath(paramScope).GetParam(paramName); found {
			lines = append(lines, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
		}
	}
	return strings.Join(lines, "\n")
}

// SprintContextSettings pretty-prints all hyperparameters of ctx, one per line.
func SprintContextSettings(ctx *context.Context) string {
	var lines []string
	ctx.EnumerateParams(func(scope, key string, value any) {
		paramPath := key
		if scope != context.RootScope {
			paramPath = scope + context.ScopeSeparator + key
		}
		lines = append(lines, fmt.Sprintf("\t%q: (%T) %v", paramPath, value, value))
	})
	return strings.Join(lines, "\n")
}
