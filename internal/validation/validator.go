// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

// Package validation provides struct validation using go-playground/validator
// v10. It exposes a thread-safe singleton validator instance so struct
// metadata is parsed and cached once per process.
//
// Example usage:
//
//	type RegisterRequest struct {
//	    Username string `json:"username" validate:"required,min=3,max=64"`
//	    Password string `json:"password" validate:"required,min=8"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    // err.Fields() describes each failing field
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Error aggregates one or more field validation failures.
type Error struct {
	fields []FieldError
}

// FieldError describes a single failing field.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Fields returns the individual field failures.
func (e *Error) Fields() []FieldError {
	return e.fields
}

// Error returns a human-readable summary of all failures.
func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Details returns the failures in the map shape used by APIError.Details.
func (e *Error) Details() map[string]interface{} {
	details := make(map[string]interface{}, len(e.fields))
	for _, f := range e.fields {
		details[f.Field] = f.Message
	}
	return details
}

// getValidator returns the singleton validator, creating it on first use.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates v and returns a *Error describing every failing
// field, or nil if validation passes.
func ValidateStruct(v interface{}) *Error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return &Error{fields: []FieldError{{
			Field:   "",
			Message: "invalid value passed to validator",
		}}}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{fields: []FieldError{{Message: err.Error()}}}
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: messageFor(fe),
		})
	}
	return &Error{fields: fields}
}

// messageFor renders a terse, stable message for a field error.
func messageFor(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
