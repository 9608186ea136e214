package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// HostedProvisioner provisions accounts from a hosted custody REST API
// (a Coinbase Developer Platform-shaped backend): a signed JWT bearer
// token authenticates a GET-then-POST idempotent account lookup/creation.
type HostedProvisioner struct {
	baseURL    string
	apiKeyName string
	privateKey ed25519.PrivateKey
	httpClient *http.Client
}

// NewHostedProvisioner builds a HostedProvisioner. apiKeySecret is the
// base64-encoded Ed25519 private key issued by the custody backend.
func NewHostedProvisioner(baseURL, apiKeyName, apiKeySecret string) (*HostedProvisioner, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(apiKeySecret))
	if err != nil {
		return nil, fmt.Errorf("wallet: decoding api key secret: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(keyBytes)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(keyBytes)
	default:
		return nil, fmt.Errorf("wallet: unsupported api key secret length %d", len(keyBytes))
	}
	return &HostedProvisioner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKeyName: apiKeyName,
		privateKey: priv,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (p *HostedProvisioner) bearerToken(method, path string) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: p.privateKey}, (&jose.SignerOptions{}).WithHeader("kid", p.apiKeyName))
	if err != nil {
		return "", fmt.Errorf("wallet: building signer: %w", err)
	}
	claims := jwt.Claims{
		Issuer:   "wallet",
		Subject:  p.apiKeyName,
		Audience: jwt.Audience{"wallet-api"},
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Expiry:   jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
	}
	extra := struct {
		URIs []string `json:"uris"`
	}{URIs: []string{fmt.Sprintf("%s %s", method, path)}}

	return jwt.Signed(signer).Claims(claims).Claims(extra).CompactSerialize()
}

type hostedAccount struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Network string `json:"network"`
}

// Provision implements the GET-then-POST idempotent provisioning pattern:
// look for an existing account on network first, and only create one if
// none is found.
func (p *HostedProvisioner) Provision(ctx context.Context, network string) (Account, error) {
	path := fmt.Sprintf("/v1/accounts?network=%s", network)
	var existing struct {
		Accounts []hostedAccount `json:"accounts"`
	}
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &existing); err == nil && len(existing.Accounts) > 0 {
		a := existing.Accounts[0]
		return Account{ID: a.ID, Address: a.Address, Network: a.Network}, nil
	}

	var created hostedAccount
	body, _ := json.Marshal(map[string]string{"network": network})
	if err := p.doJSON(ctx, http.MethodPost, "/v1/accounts", body, &created); err != nil {
		return Account{}, fmt.Errorf("%w: creating hosted account: %v", ErrProvisioningFailed, err)
	}
	return Account{ID: created.ID, Address: created.Address, Network: created.Network}, nil
}

func (p *HostedProvisioner) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	token, err := p.bearerToken(method, path)
	if err != nil {
		return err
	}
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hosted wallet API %s %s: HTTP %d: %s", method, path, resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, out)
}

// HostedBalanceSource queries balances from the same hosted custody
// backend as HostedProvisioner.
type HostedBalanceSource struct {
	provisioner *HostedProvisioner
}

// NewHostedBalanceSource builds a BalanceSource backed by provisioner's client.
func NewHostedBalanceSource(provisioner *HostedProvisioner) *HostedBalanceSource {
	return &HostedBalanceSource{provisioner: provisioner}
}

// AtomicBalance returns account's USDC atomic balance on network. Any
// failure is returned as an error for the caller (wallet.Manager) to
// degrade to unknown — this method never degrades on its own.
func (s *HostedBalanceSource) AtomicBalance(ctx context.Context, account Account, network string) (int64, error) {
	path := fmt.Sprintf("/v1/accounts/%s/balances?network=%s", account.ID, network)
	var out struct {
		USDCAtomic int64 `json:"usdcAtomic"`
	}
	if err := s.provisioner.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.USDCAtomic, nil
}
