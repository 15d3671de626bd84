package middleware

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/security"
)

const deviceIDKey = "device_id"

// NonceChecker reports whether a nonce is seen for the first time.
type NonceChecker interface {
	Claim(ctx context.Context, scope, nonce string, ttl time.Duration) (bool, error)
}

// DeviceSignature authenticates requests sent by devices themselves. The
// request carries its device id, an RFC 3339 date, a nonce and an HMAC over
// the method, path, query, body hash, date and nonce.
func DeviceSignature(secret string, skew time.Duration, nonces NonceChecker) gin.HandlerFunc {
	if skew <= 0 {
		skew = 5 * time.Minute
	}

	return func(c *gin.Context) {
		if secret == "" {
			Fail(c, apperr.Internal(nil, "server misconfigured"))
			return
		}

		headers, err := security.ExtractSignatureHeaders(c)
		if err != nil {
			Fail(c, apperr.Unauthorized("signature required"))
			return
		}

		requestTime, err := time.Parse(time.RFC3339, headers.Date)
		if err != nil {
			Fail(c, apperr.Unauthorized("invalid signature date"))
			return
		}
		if time.Since(requestTime) > skew || time.Until(requestTime) > skew {
			Fail(c, apperr.Unauthorized("request expired"))
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			Fail(c, apperr.BadRequest("invalid body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		path, query := security.CanonicalPath(c.Request)
		valid := security.ValidateSignature(
			secret,
			headers.DeviceID,
			headers.Signature,
			c.Request.Method,
			path,
			query,
			rawBody,
			headers.Date,
			headers.Nonce,
		)
		if !valid {
			Fail(c, apperr.Unauthorized("invalid signature"))
			return
		}

		fresh, err := nonces.Claim(c.Request.Context(), headers.DeviceID, headers.Nonce, 2*skew)
		if err != nil {
			Fail(c, apperr.Internal(err, "internal server error"))
			return
		}
		if !fresh {
			Fail(c, apperr.Unauthorized("replay detected"))
			return
		}

		c.Set(deviceIDKey, headers.DeviceID)
		c.Next()
	}
}

// SignedDeviceID returns the device id verified by DeviceSignature.
func SignedDeviceID(c *gin.Context) string {
	return c.GetString(deviceIDKey)
}
