package rtms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign computes the handshake signature: HMAC-SHA256 over
// "<clientId>,<meetingUuid>,<streamId>" keyed by the OAuth client
// secret, hex-encoded. Applied identically for signaling and media
// handshakes.
func Sign(clientID, meetingUUID, streamID, clientSecret string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	fmt.Fprintf(mac, "%s,%s,%s", clientID, meetingUUID, streamID)
	return hex.EncodeToString(mac.Sum(nil))
}

// URLValidation is the synchronous reply to an endpoint.url_validation
// webhook event.
type URLValidation struct {
	PlainToken     string `json:"plainToken"`
	EncryptedToken string `json:"encryptedToken"`
}

// ValidateURL computes the url_validation response: HMAC-SHA256 over
// the received plainToken keyed by the vendor-issued secret token.
func ValidateURL(plainToken, secretToken string) URLValidation {
	mac := hmac.New(sha256.New, []byte(secretToken))
	mac.Write([]byte(plainToken))
	return URLValidation{
		PlainToken:     plainToken,
		EncryptedToken: hex.EncodeToString(mac.Sum(nil)),
	}
}

// VerifyWebhookSignature checks a webhook signature header of the form
// "v0=<hex>" against HMAC-SHA256 over "v0:<timestamp>:<rawBody>" keyed
// by the secret token.
func VerifyWebhookSignature(rawBody []byte, timestamp, signatureHeader, secretToken string) bool {
	mac := hmac.New(sha256.New, []byte(secretToken))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(rawBody)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
