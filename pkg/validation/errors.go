/*
Copyright 2026 The Loader Engine Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package validation provides the field-level validation error and the
// RFC 7807 problem-detail type the admin boundary renders to HTTP
// clients.
package validation

import "fmt"

// ValidationError reports one or more field-level problems found while
// validating a request against a resource's shape.
type ValidationError struct {
	Resource    string
	Message     string
	FieldErrors map[string]string
}

func NewValidationError(resource, message string) *ValidationError {
	return &ValidationError{
		Resource:    resource,
		Message:     message,
		FieldErrors: make(map[string]string),
	}
}

func (e *ValidationError) AddFieldError(field, message string) {
	e.FieldErrors[field] = message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%d field errors)", e.Resource, e.Message, len(e.FieldErrors))
}

// RFC7807Problem is the subset of RFC 7807 ("Problem Details for HTTP
// APIs") this module needs to render through the admin boundary.
type RFC7807Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (p *RFC7807Problem) Error() string {
	return fmt.Sprintf("%s (%d): %s", p.Title, p.Status, p.Detail)
}

// NewConflict builds a 409 Conflict problem, the response this module
// gives when a request conflicts with a resource's current state (such
// as resuming a loader that is not PAUSED).
func NewConflict(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Title:  "Conflict",
		Status: 409,
		Detail: detail,
	}
}

// NewNotFound builds a 404 Not Found problem.
func NewNotFound(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Title:  "Not Found",
		Status: 404,
		Detail: detail,
	}
}

// NewBadRequest builds a 400 Bad Request problem.
func NewBadRequest(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Title:  "Bad Request",
		Status: 400,
		Detail: detail,
	}
}
