package gemini

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// signedPayload builds the base64(JSON) payload and its HMAC-SHA384 signature.
//
// The payload always carries the request path, the nonce, and the literal
// account token; endpoint-specific fields are merged in on top. Headers:
// X-API-KEY, X-PAYLOAD (the base64 blob), X-SIGNATURE (hex HMAC of the blob).
func signedPayload(secret, path string, nonce int64, fields map[string]any) (payload, signature string, err error) {
	body := map[string]any{
		"request": path,
		"nonce":   nonce,
		"account": "primary",
	}
	for k, v := range fields {
		body[k] = v
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}

	payload = base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	signature = hex.EncodeToString(mac.Sum(nil))

	return payload, signature, nil
}
