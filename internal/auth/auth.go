// Package auth signs requests to the gateway sidecar and quote services with
// RSA-PSS, and verifies such signatures.
//
// The signed message is timestamp_ms + method + path, hashed with SHA-256.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Header names carried on signed requests.
const (
	HeaderKey       = "X-Bridge-Key"
	HeaderTimestamp = "X-Bridge-Timestamp"
	HeaderSignature = "X-Bridge-Signature"
)

var (
	ErrMissingHeaders = errors.New("missing signature headers")
	ErrExpired        = errors.New("signature timestamp outside allowed skew")
)

// Credentials holds the key id and private key used for signing.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// LoadCredentials loads credentials from a key id and a PEM private key file.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{KeyID: keyID, PrivateKey: privateKey}, nil
}

// LoadPrivateKey reads an RSA private key in PKCS#8 or PKCS#1 PEM form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Sign returns the signature headers for a request.
func (c *Credentials) Sign(method, path string) (http.Header, error) {
	return c.signAt(time.Now(), method, path)
}

func (c *Credentials) signAt(now time.Time, method, path string) (http.Header, error) {
	ts := now.UnixMilli()

	hashed := digest(ts, method, path)
	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}

	h := http.Header{}
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(signature))
	return h, nil
}

// SignRequest adds signature headers to req.
func (c *Credentials) SignRequest(req *http.Request) error {
	h, err := c.Sign(req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	for k, v := range h {
		req.Header[k] = v
	}
	return nil
}

// Verify checks headers produced by Sign against pub. A zero maxSkew
// disables the timestamp check.
func Verify(pub *rsa.PublicKey, method, path string, h http.Header, maxSkew time.Duration) error {
	tsStr, sigStr := h.Get(HeaderTimestamp), h.Get(HeaderSignature)
	if tsStr == "" || sigStr == "" || h.Get(HeaderKey) == "" {
		return ErrMissingHeaders
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	if maxSkew > 0 {
		skew := time.Since(time.UnixMilli(ts))
		if skew > maxSkew || skew < -maxSkew {
			return ErrExpired
		}
	}

	sig, err := base64.StdEncoding.DecodeString(sigStr)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	hashed := digest(ts, method, path)
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

func digest(ts int64, method, path string) [32]byte {
	return sha256.Sum256([]byte(strconv.FormatInt(ts, 10) + method + path))
}
