package obs

import (
	"crypto/sha256"
	"encoding/base64"
)

// AuthResponse computes the obs-websocket v5 challenge-response string:
//
//	secret = base64(sha256(password + salt))
//	response = base64(sha256(secret + challenge))
//
// Standard SHA-256 and the standard base64 alphabet with padding, matching
// the server's verification bit-for-bit. Pure function, no I/O.
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	response := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(response[:])
}
