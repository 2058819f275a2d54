package payment

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
)

// Sign computes base64(sha1(privateKey + data + privateKey)).
func Sign(privateKey, data string) string {
	sum := sha1.Sum([]byte(privateKey + data + privateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifySignature compares in constant time.
func VerifySignature(privateKey, data, signature string) bool {
	if privateKey == "" || data == "" || signature == "" {
		return false
	}
	expected := Sign(privateKey, data)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// encodeData returns the base64 JSON "data" field and its signature.
func encodeData(privateKey string, payload any) (data, signature string, err error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	data = base64.StdEncoding.EncodeToString(b)
	return data, Sign(privateKey, data), nil
}
