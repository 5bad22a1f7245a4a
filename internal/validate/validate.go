// Package validate checks user input before anything reaches the network.
// Failures come back as apperr.ValidationError with one translated message per
// field.
package validate

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/PaulBabatuyi/classroomSync-gRPC/internal/apperr"
)

var (
	// custom validation tags & texts
	driveLinkTag  = "drivelink"
	driveLinkText = "please enter a valid Google Drive link"

	maxBytesTag  = "maxbytes"
	maxBytesText = "{0} is too large"

	notBlankTag  = "notblank"
	notBlankText = "this field is required"

	requiredTag  = "required"
	requiredText = "this field is required"
)

var (
	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
)

func instance() (*validator.Validate, ut.Translator) {
	once.Do(func() {
		english := en.New()
		uni := ut.New(english, english)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = en_translations.RegisterDefaultTranslations(validate, translator)

		// Use JSON tag names for errors instead of Go struct names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = validate.RegisterValidation(driveLinkTag, driveLinkValidation)
		registerTranslation(driveLinkTag, driveLinkText, false)

		_ = validate.RegisterValidation(maxBytesTag, maxBytesValidation)
		registerTranslation(maxBytesTag, maxBytesText, false)

		_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
		registerTranslation(notBlankTag, notBlankText, false)

		registerTranslation(requiredTag, requiredText, true)
	})
	return validate, translator
}

func registerTranslation(tag, text string, override bool) {
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates v and returns a ValidationError listing every failing field,
// or nil.
func Struct(v any) error {
	val, trans := instance()
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fe.Field(), Error: fe.Translate(trans)})
	}
	return apperr.Validation(nil, fields...)
}

// Field validates a single value against tag, reporting it under name.
func Field(name string, value any, tag string) error {
	val, trans := instance()
	err := val.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		// Var has no field name, so "{0} ..." translations start with a blank.
		msg := fe.Translate(trans)
		if strings.HasPrefix(msg, " ") {
			msg = name + msg
		}
		fields = append(fields, apperr.FieldError{Field: name, Error: msg})
	}
	return apperr.Validation(nil, fields...)
}

// driveLinkValidation only allows links hosted on drive.google.com.
func driveLinkValidation(fl validator.FieldLevel) bool {
	return strings.Contains(fl.Field().String(), "drive.google.com")
}

// maxBytesValidation bounds the encoded size of a string field: maxbytes=1048576.
func maxBytesValidation(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// notBlankValidation rejects whitespace-only strings.
func notBlankValidation(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
