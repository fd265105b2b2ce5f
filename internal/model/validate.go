package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/titlechain/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v's validate tags and reports every failed field in one
// KindInvalid error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalid, "model.Validate", "", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return apperr.New(apperr.KindInvalid, "model.Validate", "", "%s", strings.Join(msgs, "; "))
}
