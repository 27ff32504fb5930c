package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/digiscribe/internal/platform/fhir"
)

// reject writes an error response in the caller's dialect: an
// OperationOutcome under /fhir, echo's {"message": ...} elsewhere.
func reject(c echo.Context, status int, issueCode, msg string) error {
	if c.Response().Committed {
		return nil
	}
	if strings.HasPrefix(c.Request().URL.Path, "/fhir") {
		return c.JSON(status, fhir.NewOperationOutcome("error", issueCode, msg))
	}
	return c.JSON(status, map[string]string{"message": msg})
}
