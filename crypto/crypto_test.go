package crypto

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
}

func TestNewAESEncryptor(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32)), false},
		{"empty key", "", true},
		{"not base64", "!!!not-base64!!!", true},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"too long", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 48)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tc.key)
			if (err != nil) != tc.wantErr {
				t.Errorf("NewAESEncryptor err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	plaintext := []byte("an obs-websocket password")
	ct, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Error("ciphertext contains plaintext")
	}
	got, err := enc.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext are identical; nonce is not fresh")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ct, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	ct[len(ct)-1] ^= 0xFF
	if _, err := enc.Decrypt(ct); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if _, err := enc.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated ciphertext")
	}
}

func TestStringHelpers(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))

	ct, err := EncryptString(enc, "hunter2")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if strings.Contains(ct, "hunter2") {
		t.Error("encrypted string contains plaintext")
	}
	got, err := DecryptString(enc, ct)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("round trip = %q", got)
	}

	// Empty strings pass through unchanged in both directions.
	if ct, err := EncryptString(enc, ""); err != nil || ct != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", ct, err)
	}
	if pt, err := DecryptString(enc, ""); err != nil || pt != "" {
		t.Errorf("DecryptString(\"\") = %q, %v", pt, err)
	}

	if _, err := DecryptString(enc, "not-base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
