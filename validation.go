package cauth

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		v.RegisterStructValidation(oneCredential, RegisterInput{}, LoginInput{}, LoginWithOtpInput{})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			oneCredential(sl)
			passwordGate(sl)
		}, RequestOtpInput{})
		validate = v
	})
	return validate
}

// oneCredential enforces that exactly one of email and phone number is set.
func oneCredential(sl validator.StructLevel) {
	cur := sl.Current()
	email := cur.FieldByName("Email").String()
	phone := cur.FieldByName("PhoneNumber").String()
	switch {
	case email == "" && phone == "":
		sl.ReportError(email, "email", "Email", "credential_missing", "")
	case email != "" && phone != "":
		sl.ReportError(email, "email", "Email", "credential_both", "")
	}
}

// passwordGate requires a password exactly when UsePassword is set.
func passwordGate(sl validator.StructLevel) {
	in := sl.Current().Interface().(RequestOtpInput)
	if in.UsePassword != (in.Password != "") {
		sl.ReportError(in.Password, "password", "Password", "password_gate", "")
	}
}

// validateInput returns nil or an InvalidData error whose message joins
// every field issue as "field: reason; field: reason".
func validateInput(in any) *Error {
	err := inputValidator().Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidData(err.Error())
	}
	reasons := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reasons = append(reasons, fe.Field()+": "+describe(fe))
	}
	return invalidData(strings.Join(reasons, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number"
	case "numeric":
		return "must contain only digits"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "credential_missing":
		return "provide either email or phoneNumber"
	case "credential_both":
		return "provide either email or phoneNumber, not both"
	case "password_gate":
		return "password required only if usePassword is true"
	}
	return "is invalid (" + fe.Tag() + ")"
}
