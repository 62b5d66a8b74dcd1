package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"
)

// Signer holds the RSA key used for signed endpoints.
type Signer struct {
	accessKey string
	key       *rsa.PrivateKey
}

// NewSigner parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func NewSigner(accessKey, privateKeyPEM string) (*Signer, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else if k8, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := k8.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		key = rk
	} else {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Signer{accessKey: accessKey, key: key}, nil
}

// SigningString builds the message that gets signed: timestamp‖METHOD‖path.
// The path must not include the query string.
func SigningString(timestampMS int64, method, path string) string {
	return strconv.FormatInt(timestampMS, 10) + method + path
}

// Headers produces the auth headers for one request: RSA-PSS SHA-256 over
// the signing string, base64-encoded.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	ts := time.Now().UnixMilli()
	msg := SigningString(ts, method, path)

	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.accessKey,
		"KALSHI-ACCESS-TIMESTAMP": strconv.FormatInt(ts, 10),
		"KALSHI-ACCESS-SIGNATURE": base64.StdEncoding.EncodeToString(sig),
	}, nil
}
