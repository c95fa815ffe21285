// Package validate wraps a shared validator instance for request binding.
package validate

import (
	"github.com/go-playground/validator/v10"
)

var v = validator.New()

// Struct validates any tagged struct and returns the first tag violation.
func Struct(s interface{}) error {
	return v.Struct(s)
}

// Var validates a single value against a tag expression.
func Var(field interface{}, tag string) error {
	return v.Var(field, tag)
}
