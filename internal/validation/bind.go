package validation

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return err
	}
	return validateStruct(c, out, v)
}

// BindOptionalAndValidate is BindAndValidate for endpoints whose body may be omitted.
// An empty body, chunked or not, validates the zero value of `out`.
func BindOptionalAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if body := c.Request.Body; body != nil && body != http.NoBody {
		if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid_request_body",
				"msg":   err.Error(),
			})
			return err
		}
	}
	return validateStruct(c, out, v)
}

// BindQueryAndValidate binds the query string into `out` and runs validation.
func BindQueryAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindQuery(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_query",
			"msg":   err.Error(),
		})
		return err
	}
	return validateStruct(c, out, v)
}

func validateStruct(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.StructNamespace()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gtefield":
		return "must not be less than " + fe.Param()
	case "startswith":
		return "must start with " + fe.Param()
	case "subtotal_match_items":
		return fe.Param()
	}
	return fe.Error()
}
