package rtms

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

func TestSign(t *testing.T) {
	got := Sign("client-1", "uuid-1", "stream-1", "secret")

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("client-1,uuid-1,stream-1"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func TestSignDependsOnEveryInput(t *testing.T) {
	base := Sign("client-1", "uuid-1", "stream-1", "secret")
	variants := []string{
		Sign("client-2", "uuid-1", "stream-1", "secret"),
		Sign("client-1", "uuid-2", "stream-1", "secret"),
		Sign("client-1", "uuid-1", "stream-2", "secret"),
		Sign("client-1", "uuid-1", "stream-1", "other"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d produced the same signature as the base inputs", i)
		}
	}
}

func TestValidateURL(t *testing.T) {
	resp := ValidateURL("abc123", "token-secret")

	if resp.PlainToken != "abc123" {
		t.Errorf("PlainToken = %s, want abc123", resp.PlainToken)
	}

	mac := hmac.New(sha256.New, []byte("token-secret"))
	mac.Write([]byte("abc123"))
	if want := hex.EncodeToString(mac.Sum(nil)); resp.EncryptedToken != want {
		t.Errorf("EncryptedToken = %s, want %s", resp.EncryptedToken, want)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"meeting.rtms_started"}`)
	ts := "1724500000"
	secret := "token-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", ts)
	mac.Write(body)
	header := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !VerifyWebhookSignature(body, ts, header, secret) {
		t.Error("valid signature rejected")
	}
	if VerifyWebhookSignature(body, ts, header, "wrong-secret") {
		t.Error("signature accepted with the wrong secret")
	}
	if VerifyWebhookSignature(body, "1724500001", header, secret) {
		t.Error("signature accepted with a different timestamp")
	}
	if VerifyWebhookSignature([]byte("tampered"), ts, header, secret) {
		t.Error("signature accepted with a tampered body")
	}
}
