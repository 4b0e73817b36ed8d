package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AnTengye/esignflow/config"
)

const (
	signAlgorithm = "TC3-HMAC-SHA256"
	signScope     = "tc3_request"
	signedHeaders = "content-type;host;x-tc-action"
	contentType   = "application/json; charset=utf-8"
)

// SignedRequest is a fully prepared provider request, valid for exactly
// one call. It is never persisted.
type SignedRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Signer builds authenticated requests for the e-sign provider API.
// It keeps no state between calls; for fixed inputs the output only
// changes when the wall-clock second changes.
type Signer struct {
	secretID  string
	secretKey string
	host      string
	service   string
	version   string
}

func NewSigner(cfg *config.ESSConfig) *Signer {
	return &Signer{
		secretID:  cfg.SecretID,
		secretKey: cfg.SecretKey,
		host:      cfg.Host,
		service:   cfg.Service,
		version:   cfg.Version,
	}
}

// Sign produces the signed request for one API action at the given instant
func (s *Signer) Sign(action string, payload []byte, now time.Time) *SignedRequest {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	date := now.UTC().Format("2006-01-02")

	hashedPayload := sha256Hex(payload)
	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\nx-tc-action:%s\n",
		contentType, s.host, strings.ToLower(action))
	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		canonicalHeaders,
		signedHeaders,
		hashedPayload,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s", date, s.service, signScope)
	stringToSign := strings.Join([]string{
		signAlgorithm,
		timestamp,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	// Chained HMAC key derivation, scoped to date then service then scope.
	secretDate := hmacSHA256([]byte("TC3"+s.secretKey), date)
	secretService := hmacSHA256(secretDate, s.service)
	secretSigning := hmacSHA256(secretService, signScope)
	signature := hex.EncodeToString(hmacSHA256(secretSigning, stringToSign))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, s.secretID, credentialScope, signedHeaders, signature)

	return &SignedRequest{
		URL:    "https://" + s.host,
		Method: "POST",
		Headers: map[string]string{
			"Content-Type":   contentType,
			"Host":           s.host,
			"X-TC-Action":    action,
			"X-TC-Version":   s.version,
			"X-TC-Timestamp": timestamp,
			"Authorization":  authorization,
		},
		Body: payload,
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}
