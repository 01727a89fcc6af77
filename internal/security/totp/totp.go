// Package totp implements RFC 6238 time-based one-time passwords
// (HMAC-SHA1, 6 digits, 30 second period) for second-factor enrollment
// and challenges. No external QR service is involved: callers render the
// otpauth URL themselves so the secret never leaves the process.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Digits in a code. The login flow only accepts 6-digit numeric input.
	Digits = 6
	// Period is the TOTP time step.
	Period = 30 * time.Second

	secretLen = 20
)

// GenerateSecret returns 20 random bytes plus their base32 encoding
// without padding (RFC 3548), the form authenticator apps accept.
func GenerateSecret() (raw []byte, b32 string, err error) {
	raw = make([]byte, secretLen)
	if _, err = rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return raw, enc, nil
}

// DecodeSecret parses a base32 secret produced by GenerateSecret.
func DecodeSecret(b32 string) ([]byte, error) {
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimSpace(b32)))
}

// OTPAuthURL builds the otpauth:// enrollment URI.
// otpauth://totp/{issuer}:{account}?secret=...&issuer=...&algorithm=SHA1&digits=6&period=30
func OTPAuthURL(issuer, accountName, secretB32 string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, accountName))
	q := url.Values{}
	q.Set("secret", secretB32)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", int(Period.Seconds())))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

// Verify checks a code within +/- windowSteps periods around t.
// lastCounterUsed, when non-nil, rejects counters already consumed
// (anti-replay); on success the matched counter is returned so the
// caller can persist it.
func Verify(secretRaw []byte, code string, t time.Time, windowSteps int, lastCounterUsed *int64) (ok bool, counter int64) {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		return false, 0
	}
	counter = t.Unix() / int64(Period.Seconds())
	for c := counter - int64(windowSteps); c <= counter+int64(windowSteps); c++ {
		if lastCounterUsed != nil && c <= *lastCounterUsed {
			continue // anti-replay
		}
		if generate(secretRaw, c) == code {
			return true, c
		}
	}
	return false, 0
}

// generate computes HOTP(K, C) per RFC 4226 with HMAC-SHA1.
func generate(secretRaw []byte, counter int64) string {
	var msg [8]byte
	for i := 7; i >= 0; i-- {
		msg[i] = byte(counter & 0xff)
		counter >>= 8
	}
	m := hmac.New(sha1.New, secretRaw)
	_, _ = m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	mod := 1
	for i := 0; i < Digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", Digits, bin%mod)
}
