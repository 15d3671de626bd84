package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// Errors renders the last error handlers attached with c.Error. Anything
// that is not an *apperr.Error becomes a 500.
func Errors(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := apperr.From(c.Errors.Last().Err)
		if appErr.StatusCode >= http.StatusInternalServerError {
			log.Error().
				Err(appErr).
				Str("path", c.Request.URL.Path).
				Str("request_id", c.Writer.Header().Get(requestIDHeader)).
				Msg("request failed")
		}
		writeError(c, appErr)
	}
}

func writeError(c *gin.Context, appErr *apperr.Error) {
	c.AbortWithStatusJSON(appErr.StatusCode, ErrorBody{
		StatusCode: appErr.StatusCode,
		Error:      apperr.StatusText(appErr.StatusCode),
		Message:    appErr.Message,
	})
}

// Fail attaches err for Errors to render and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
