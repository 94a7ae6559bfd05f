package domain

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

// getValidator lazily builds the shared validator. validator.New is costly;
// one instance serves every payload type.
func getValidator() *validator.Validate {
	vldOnce.Do(func() {
		vld = validator.New(validator.WithRequiredStructEnabled())
	})
	return vld
}

// validateStruct runs tag validation and folds failures into invalid_input so
// callers classify without inspecting validator internals.
func validateStruct(v any) error {
	if err := getValidator().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
