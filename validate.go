package statez

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Validator is implemented by values that check their own invariants.
type Validator interface {
	Validate() error
}

// ValidatePlugin vetoes commits whose proposed value is invalid.
type ValidatePlugin[T any] struct {
	validate *validator.Validate
}

// Validate creates a plugin that rejects a proposed value when its
// Validate method fails, or when it is a struct whose `validate` tags
// fail. Rejections wrap ErrInvalid.
//
// Example:
//
//	type Settings struct {
//	    Theme string `json:"theme" validate:"oneof=light dark"`
//	    Port  int    `json:"port" validate:"min=1,max=65535"`
//	}
//
//	store := statez.New[Settings](Settings{Theme: "light", Port: 8080},
//	    statez.Validate[Settings](),
//	)
func Validate[T any]() *ValidatePlugin[T] {
	return &ValidatePlugin[T]{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Name implements Plugin.
func (*ValidatePlugin[T]) Name() string {
	return "validate"
}

// OnCommit checks c.Next and passes it through unchanged.
func (p *ValidatePlugin[T]) OnCommit(_ context.Context, c Commit[T]) (T, error) {
	if v, ok := any(c.Next).(Validator); ok {
		if err := v.Validate(); err != nil {
			return c.Previous, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if isStruct(c.Next) {
		if err := p.validate.Struct(c.Next); err != nil {
			return c.Previous, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return c.Next, nil
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}

var _ CommitHook[int] = (*ValidatePlugin[int])(nil)
