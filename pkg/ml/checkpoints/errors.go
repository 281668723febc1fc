// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"fmt"
	"strings"

	"github.com/gomlx/mlptrain/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ErrMalformedCheckpoint is returned (wrapped, test with errors.Is) when a checkpoint can't be decoded:
// truncated data, missing or invalid header fields, or parameters inconsistent with the stored architecture.
var ErrMalformedCheckpoint = errors.New("malformed checkpoint")

// malformedf returns an error wrapping ErrMalformedCheckpoint.
func malformedf(format string, args ...any) error {
	return errors.Wrapf(ErrMalformedCheckpoint, format, args...)
}

// ParameterMismatch describes one parameter whose stored shape doesn't match the model.
//
// If the parameter is missing from the model, Expected is invalid (see shapes.Shape.Ok), and if it
// is missing from the checkpoint, Stored is invalid.
type ParameterMismatch struct {
	Name             string
	Stored, Expected shapes.Shape
}

// String implements fmt.Stringer.
func (pm ParameterMismatch) String() string {
	switch {
	case !pm.Expected.Ok():
		return fmt.Sprintf("%s: stored %s, not in the model", pm.Name, pm.Stored)
	case !pm.Stored.Ok():
		return fmt.Sprintf("%s: not in the checkpoint, expected %s", pm.Name, pm.Expected)
	default:
		return fmt.Sprintf("%s: stored %s, expected %s", pm.Name, pm.Stored, pm.Expected)
	}
}

// ShapeMismatchError is returned when loading a checkpoint into a model whose parameters don't match
// the stored ones. It lists every mismatched parameter, in checkpoint order followed by the parameters
// only the model has.
//
// Use errors.As to retrieve it.
type ShapeMismatchError struct {
	Mismatches []ParameterMismatch
}

// Error implements error.
func (e *ShapeMismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for ii, m := range e.Mismatches {
		parts[ii] = m.String()
	}
	return fmt.Sprintf("checkpoint doesn't match the model, %d parameters differ: %s",
		len(e.Mismatches), strings.Join(parts, "; "))
}

// Names of the mismatched parameters.
func (e *ShapeMismatchError) Names() []string {
	names := make([]string, len(e.Mismatches))
	for ii, m := range e.Mismatches {
		names[ii] = m.Name
	}
	return names
}
