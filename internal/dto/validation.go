package dto

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/karripar/va-hybrid-api/internal/models"
	"github.com/karripar/va-hybrid-api/internal/schema"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
)

// RegisterValidations installs the domain tags used by request payloads and
// reports JSON field names in validation errors.
func RegisterValidations(v *validator.Validate, cat *catalog.Catalog) error {
	if cat == nil {
		cat = catalog.Default()
	}

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	rules := map[string]validator.Func{
		"phase": func(fl validator.FieldLevel) bool {
			return cat.IsPhase(fl.Field().String())
		},
		"phase_status": func(fl validator.FieldLevel) bool {
			_, err := schema.NormalizePhaseStatus(fl.Field().String())
			return err == nil
		},
		"stage_status": func(fl validator.FieldLevel) bool {
			return models.StageStatus(fl.Field().String()).Valid()
		},
		"grant_status": func(fl validator.FieldLevel) bool {
			return models.GrantStatus(fl.Field().String()).Valid()
		},
		"grant_source": func(fl validator.FieldLevel) bool {
			return cat.IsGrantSource(fl.Field().String())
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %q validation: %w", tag, err)
		}
	}
	return nil
}
