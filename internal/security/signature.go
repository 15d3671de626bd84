package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderDevice    = "X-Ward-Device"
	HeaderSignature = "X-Ward-Signature"
	HeaderDate      = "X-Ward-Date"
	HeaderNonce     = "X-Ward-Nonce"
)

func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ComputeSignature signs a device request with the key DeviceKey derives
// for deviceID.
func ComputeSignature(secret string, deviceID string, method string, path string, query string, bodyHash string, date string, nonce string) string {
	data := strings.Join([]string{
		deviceID,
		strings.ToUpper(method),
		path,
		query,
		bodyHash,
		date,
		nonce,
	}, "\n")

	mac := hmac.New(sha256.New, DeviceKey(secret, deviceID))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// DeviceKey is the per-device signing key provisioned onto the device.
func DeviceKey(secret string, deviceID string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("device:" + deviceID))
	return mac.Sum(nil)
}

func ValidateSignature(secret string, deviceID string, signature string, method string, path string, query string, body []byte, date string, nonce string) bool {
	bodyHash := ComputeBodyHash(body)
	expected := ComputeSignature(secret, deviceID, method, path, query, bodyHash, date, nonce)
	return hmac.Equal([]byte(signature), []byte(expected))
}

type SignatureHeaders struct {
	DeviceID  string
	Date      string
	Nonce     string
	Signature string
}

func ExtractSignatureHeaders(c *gin.Context) (SignatureHeaders, error) {
	h := SignatureHeaders{
		DeviceID:  c.GetHeader(HeaderDevice),
		Date:      c.GetHeader(HeaderDate),
		Nonce:     c.GetHeader(HeaderNonce),
		Signature: c.GetHeader(HeaderSignature),
	}
	if h.DeviceID == "" || h.Date == "" || h.Nonce == "" || h.Signature == "" {
		return SignatureHeaders{}, fmt.Errorf("missing signature headers")
	}
	return h, nil
}

func CanonicalPath(r *http.Request) (string, string) {
	return r.URL.Path, r.URL.RawQuery
}
