package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"campuspay/internal/authz"
	"campuspay/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("campus_role", func(fl validator.FieldLevel) bool {
		return authz.Role(fl.Field().String()).Valid()
	})
	return v
}

// SignupInput is the normalized form of a complete-signup request.
type SignupInput struct {
	Name     string     `validate:"required"`
	Email    string     `validate:"required,email"`
	Mobile   string     `validate:"required,len=10,numeric"`
	Course   string     `validate:"required_if=Role STUDENT"`
	Password string     `validate:"required,min=6"`
	Role     authz.Role `validate:"required,campus_role"`
}

// NewSignupInput trims the request, folds the email and role, and keeps only
// the digits of the mobile number.
func NewSignupInput(req models.SignupRequest) SignupInput {
	role, ok := authz.ParseRole(string(req.Role))
	if !ok {
		role = authz.Role(strings.TrimSpace(string(req.Role)))
	}
	in := SignupInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    models.NormalizeEmail(req.Email),
		Mobile:   digitsOnly(req.Mobile),
		Course:   strings.TrimSpace(req.Course),
		Password: req.Password,
		Role:     role,
	}
	if !role.RequiresCourse() {
		in.Course = ""
	}
	return in
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (in SignupInput) Validate() error {
	return toValidationError(validate.Struct(in))
}

// validateEmail checks syntax only; it expects an already normalized value.
func validateEmail(email string) error {
	if email == "" {
		return invalidField("email", "email is required")
	}
	if err := validate.Var(email, "email"); err != nil {
		return invalidField("email", "email must be a valid email address")
	}
	return nil
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(ve))}
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required", "required_if":
			out.Fields[field] = fmt.Sprintf("%s is required", field)
		case "email":
			out.Fields[field] = "email must be a valid email address"
		case "min":
			out.Fields[field] = fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
		case "len", "numeric":
			out.Fields[field] = fmt.Sprintf("%s must be exactly 10 digits", field)
		case "campus_role":
			out.Fields[field] = "role must be STUDENT or TEACHER"
		default:
			out.Fields[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}
