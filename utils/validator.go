package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"

	"mailcache/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so messages match the request body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// mailbox: a syntactically valid address (no DNS or SMTP probing)
	_ = v.RegisterValidation("mailbox", func(fl validator.FieldLevel) bool {
		return checkmail.ValidateFormat(strings.TrimSpace(fl.Field().String())) == nil
	})
	// folderkey: one of the logical folder keys
	_ = v.RegisterValidation("folderkey", func(fl validator.FieldLevel) bool {
		return models.IsFolderKey(fl.Field().String())
	})
	return v
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	// Format validation errors
	var msgs []string
	for _, err := range verrs {
		field := err.Field()
		if field == err.StructField() {
			field = strings.ToLower(field)
		}
		param := err.Param()

		switch err.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+param+" characters")
		case "max":
			msgs = append(msgs, field+" must be at most "+param+" characters")
		case "email", "mailbox":
			msgs = append(msgs, field+" must be a valid email")
		case "folderkey":
			msgs = append(msgs, field+" must be one of "+strings.Join(models.FolderKeys, ", "))
		case "dive":
			msgs = append(msgs, field+" contains an invalid entry")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}

	return errors.New(strings.Join(msgs, ", "))
}
