// Copyright (C) 2025 Bronzelake, Inc.
// See LICENSE for copying information.

// Package ident guards identifiers that are interpolated into warehouse
// statements. The warehouse HTTP protocol carries SQL as text with no
// placeholder mechanism for identifiers, so every database, table and
// column name coming from metadata must pass through this package before
// it reaches a statement.
package ident

import (
	"regexp"

	"github.com/zeebo/errs"
)

// Error is the class of identifier validation errors.
var Error = errs.Class("invalid identifier")

var identifierRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Require returns an error unless name consists solely of ASCII letters,
// digits and underscores.
func Require(name string) error {
	if name == "" || !identifierRegex.MatchString(name) {
		return Error.New("%q", name)
	}
	return nil
}

// Quote validates name and returns it wrapped in backticks.
func Quote(name string) (string, error) {
	if err := Require(name); err != nil {
		return "", err
	}
	return "`" + name + "`", nil
}
