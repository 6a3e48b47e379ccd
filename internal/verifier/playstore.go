// AngelaMos | 2026
// playstore.go

package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/sethvargo/go-retry"

	"github.com/lumenlearn/entitlement-backend/internal/config"
	"github.com/lumenlearn/entitlement-backend/internal/core"
)

const (
	androidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"
	jwtBearerGrantType    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Play purchaseState values. Anything other than purchased is rejected.
const (
	purchaseStatePurchased = 0
	purchaseStateCanceled  = 1
	purchaseStatePending   = 2
)

type PlayStoreClient struct {
	config     config.PlayStoreConfig
	httpClient *http.Client
	signingKey jwk.Key

	mu          sync.Mutex
	accessToken string
	tokenExp    time.Time
}

func NewPlayStoreClient(cfg config.PlayStoreConfig) (*PlayStoreClient, error) {
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read play store key: %w", err)
	}

	key, err := jwk.ParseKey(keyPEM, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse play store key: %w", err)
	}

	if setErr := key.Set(jwk.AlgorithmKey, jwa.RS256()); setErr != nil {
		return nil, fmt.Errorf("set algorithm: %w", setErr)
	}

	return &PlayStoreClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		signingKey: key,
	}, nil
}

// Verify queries the purchases.products endpoint for a one-time product
// purchase token.
func (c *PlayStoreClient) Verify(
	ctx context.Context,
	productID, purchaseToken string,
) (*Result, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf(
			"play store auth: %w: %w",
			err,
			core.ErrVerificationUnavailable,
		)
	}

	lookupURL := fmt.Sprintf(
		"%s/androidpublisher/v3/applications/%s/purchases/products/%s/tokens/%s",
		c.config.APIBaseURL,
		url.PathEscape(c.config.PackageName),
		url.PathEscape(productID),
		url.PathEscape(purchaseToken),
	)

	var body []byte
	var status int

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, reqErr := http.NewRequestWithContext(
			ctx,
			http.MethodGet,
			lookupURL,
			nil,
		)
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
				fmt.Errorf("play store responded %d", status),
			)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(
			"play store lookup: %w: %w",
			err,
			core.ErrVerificationUnavailable,
		)
	}

	switch {
	case status == http.StatusOK:
		// fallthrough to decode
	case status == http.StatusNotFound || status == http.StatusBadRequest:
		// The token itself is bad. Definitive reject, not an outage.
		return &Result{Valid: false}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf(
			"play store rejected service account: %w",
			core.ErrVerificationUnavailable,
		)
	default:
		return nil, fmt.Errorf(
			"play store responded %d: %w",
			status,
			core.ErrVerificationUnavailable,
		)
	}

	var purchase struct {
		PurchaseState int    `json:"purchaseState"`
		OrderID       string `json:"orderId"`
		ProductID     string `json:"productId"`
	}
	if err := json.Unmarshal(body, &purchase); err != nil {
		return nil, fmt.Errorf("decode play store response: %w", err)
	}

	canonicalProduct := purchase.ProductID
	if canonicalProduct == "" {
		canonicalProduct = productID
	}

	return &Result{
		Valid:              purchase.PurchaseState == purchaseStatePurchased,
		CanonicalProductID: canonicalProduct,
		Revoked:            purchase.PurchaseState == purchaseStateCanceled,
		OrderID:            purchase.OrderID,
	}, nil
}

// bearerToken exchanges a freshly minted RS256 service-account JWT for an
// OAuth2 access token, cached until close to expiry.
func (c *PlayStoreClient) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" &&
		time.Until(c.tokenExp) > tokenRefreshMargin {
		return c.accessToken, nil
	}

	now := time.Now()

	assertion, err := jwt.NewBuilder().
		Issuer(c.config.ClientEmail).
		Audience([]string{c.config.TokenURL}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("scope", androidPublisherScope).
		Build()
	if err != nil {
		return "", fmt.Errorf("build assertion: %w", err)
	}

	signed, err := jwt.Sign(assertion, jwt.WithKey(jwa.RS256(), c.signingKey))
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", string(signed))

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body close

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange responded %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned empty access token")
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExp = now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return c.accessToken, nil
}
