package totp

import (
	"strings"
	"testing"
	"time"
)

// rfcSecret is the shared secret from the RFC 6238 appendix vectors.
var rfcSecret = []byte("12345678901234567890")

func TestGenerate_RFCVectors(t *testing.T) {
	// RFC 6238 appendix B, SHA1 column, truncated to 6 digits.
	cases := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}
	for _, tc := range cases {
		at := time.Unix(tc.unix, 0).UTC()
		ok, _ := Verify(rfcSecret, tc.code, at, 0, nil)
		if !ok {
			t.Fatalf("t=%d: code %s not accepted", tc.unix, tc.code)
		}
	}
}

func TestVerify_Window(t *testing.T) {
	base := time.Unix(1111111109, 0).UTC()
	code := "081804" // valid for the step containing base

	if ok, _ := Verify(rfcSecret, code, base.Add(Period), 0, nil); ok {
		t.Fatal("previous-step code must fail with window 0")
	}
	if ok, _ := Verify(rfcSecret, code, base.Add(Period), 1, nil); !ok {
		t.Fatal("previous-step code must pass with window 1")
	}
	if ok, _ := Verify(rfcSecret, code, base.Add(-Period), 1, nil); !ok {
		t.Fatal("next-step code must pass with window 1")
	}
	if ok, _ := Verify(rfcSecret, code, base.Add(2*Period), 1, nil); ok {
		t.Fatal("two steps of drift must fail with window 1")
	}
}

func TestVerify_AntiReplay(t *testing.T) {
	at := time.Unix(1111111109, 0).UTC()
	code := "081804"

	ok, counter := Verify(rfcSecret, code, at, 1, nil)
	if !ok {
		t.Fatal("first use must succeed")
	}

	// Same code again, with the matched counter recorded: replay.
	if ok, _ := Verify(rfcSecret, code, at, 1, &counter); ok {
		t.Fatal("replayed counter must be rejected")
	}

	// A later step's code is still accepted.
	later := at.Add(2 * Period)
	laterCode := generate(rfcSecret, later.Unix()/int64(Period.Seconds()))
	ok2, counter2 := Verify(rfcSecret, laterCode, later, 1, &counter)
	if !ok2 {
		t.Fatal("later code must pass the replay guard")
	}
	if counter2 <= counter {
		t.Fatalf("matched counter must advance: %d -> %d", counter, counter2)
	}
}

func TestVerify_RejectsBadShape(t *testing.T) {
	at := time.Unix(59, 0).UTC()
	for _, code := range []string{"", "28708", "2870821", "287082 1"} {
		if ok, _ := Verify(rfcSecret, code, at, 1, nil); ok {
			t.Fatalf("code %q must be rejected", code)
		}
	}
	// Surrounding whitespace is tolerated.
	if ok, _ := Verify(rfcSecret, " 287082 ", at, 0, nil); !ok {
		t.Fatal("trimmed code must be accepted")
	}
}

func TestGenerateSecret_Roundtrip(t *testing.T) {
	raw, b32, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 20 {
		t.Fatalf("want 20 raw bytes, got %d", len(raw))
	}
	if strings.Contains(b32, "=") {
		t.Fatal("encoding must not be padded")
	}
	back, err := DecodeSecret(strings.ToLower(b32))
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != string(raw) {
		t.Fatal("decode must invert encode, case-insensitively")
	}
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("Storefront Admin", "ops@example.com", "JBSWY3DPEHPK3PXP")
	for _, want := range []string{
		"otpauth://totp/",
		"Storefront%20Admin:ops@example.com",
		"secret=JBSWY3DPEHPK3PXP",
		"algorithm=SHA1",
		"digits=6",
		"period=30",
	} {
		if !strings.Contains(u, want) {
			t.Fatalf("url %q must contain %q", u, want)
		}
	}
}
