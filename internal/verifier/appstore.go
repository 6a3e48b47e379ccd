// AngelaMos | 2026
// appstore.go

package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sethvargo/go-retry"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
)

const appStoreAudience = "appstoreconnect-v1"

// tokenRefreshMargin: minted tokens are reused until this close to expiry.
const tokenRefreshMargin = 5 * time.Minute

type AppStoreClient struct {
	config     config.AppStoreConfig
	httpClient *http.Client
	signingKey jwk.Key

	mu          sync.Mutex
	cachedToken string
	cachedExp   time.Time
}

func NewAppStoreClient(cfg config.AppStoreConfig) (*AppStoreClient, error) {
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read app store key: %w", err)
	}

	key, err := jwk.ParseKey(keyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse app store key: %w", err)
	}

	if setErr := key.Set(jwk.AlgorithmKey, jwa.ES256()); setErr != nil {
		return nil, fmt.Errorf("set algorithm: %w", setErr)
	}

	if setErr := key.Set(jwk.KeyIDKey, cfg.KeyID); setErr != nil {
		return nil, fmt.Errorf("set key id: %w", setErr)
	}

	return &AppStoreClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		signingKey: key,
	}, nil
}

// Verify looks up a transaction by id via the App Store Server API. A
// revocationDate on the transaction means refunded or revoked from family
// sharing.
func (c *AppStoreClient) Verify(
	ctx context.Context,
	productID, transactionID string,
) (*Result, error) {
	token, err := c.serverToken()
	if err != nil {
		return nil, fmt.Errorf(
			"app store token: %w: %w",
			err,
			core.ErrVerificationUnavailable,
		)
	}

	url := fmt.Sprintf(
		"%s/inApps/v1/transactions/%s",
		c.config.APIBaseURL,
		transactionID,
	)

	var body []byte
	var status int

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return retry.RetryableError(doErr)
		}
		defer resp.Body.Close() //nolint:errcheck // response body close

		status = resp.StatusCode
		body, reqErr = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if reqErr != nil {
			return retry.RetryableError(reqErr)
		}

		if status >= http.StatusInternalServerError {
			return retry.RetryableError(
				fmt.Errorf("app store responded %d", status),
			)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(
			"app store lookup: %w: %w",
			err,
			core.ErrVerificationUnavailable,
		)
	}

	switch {
	case status == http.StatusOK:
		// fallthrough to decode
	case status == http.StatusNotFound:
		return &Result{Valid: false}, nil
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf(
			"app store rejected server token: %w",
			core.ErrVerificationUnavailable,
		)
	default:
		return nil, fmt.Errorf(
			"app store responded %d: %w",
			status,
			core.ErrVerificationUnavailable,
		)
	}

	var envelope struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode app store response: %w", err)
	}

	txn, err := DecodeAppleTransaction(envelope.SignedTransactionInfo)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}

	return &Result{
		Valid:              true,
		CanonicalProductID: txn.ProductID,
		Revoked:            txn.RevocationDate != 0,
		OrderID:            txn.TransactionID,
	}, nil
}

// serverToken returns a short-lived ES256 JWT for the App Store Server API,
// cached until close to expiry.
func (c *AppStoreClient) serverToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedToken != "" &&
		time.Until(c.cachedExp) > tokenRefreshMargin {
		return c.cachedToken, nil
	}

	now := time.Now()
	exp := now.Add(c.config.TokenExpiry)

	token, err := jwt.NewBuilder().
		Issuer(c.config.IssuerID).
		IssuedAt(now).
		Expiration(exp).
		Audience([]string{appStoreAudience}).
		Claim("bid", c.config.BundleID).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), c.signingKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	c.cachedToken = string(signed)
	c.cachedExp = exp

	return c.cachedToken, nil
}
