// Zaparoo Storage
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Storage.
//
// Zaparoo Storage is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Storage is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Storage.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks API request parameters using go-playground
// validator with custom tags for device identities and capabilities.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ZaparooProject/zaparoo-storage/pkg/devices"
	"github.com/ZaparooProject/zaparoo-storage/pkg/mounttab"
	"github.com/go-playground/validator/v10"
)

// Validator handles validation of API parameters.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the custom tags registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("udi", validateUDI)
	_ = v.RegisterValidation("capability", validateCapability)

	return &Validator{validate: v}
}

// DefaultValidator is a shared validator instance for API use.
var DefaultValidator = NewValidator()

// Validate validates a struct and returns an *Error if a field fails.
func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidUDI reports whether s looks like a device identity: an absolute
// object or sysfs path, or a mount table identity.
func ValidUDI(s string) bool {
	if s == "" || s == devices.NoObject {
		return false
	}
	if !strings.HasPrefix(s, "/") && !strings.HasPrefix(s, mounttab.UDIPrefix) {
		return false
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return false
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func validateUDI(fl validator.FieldLevel) bool {
	return ValidUDI(fl.Field().String())
}

func validateCapability(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if val == "" {
		return true
	}
	_, err := devices.ParseCapability(val)
	return err == nil
}
