package marketplace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/marketsync/internal/domain/integration"
)

const (
	// DefaultTimeout is the fixed per-request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultChunkSize is the recommended number of entities per bulk request
	DefaultChunkSize = 50
	// MinChunkSize and MaxChunkSize bound the configurable chunk size
	MinChunkSize = 10
	MaxChunkSize = 50
	// MaxElementsPerRequest caps the total element count of one request
	MaxElementsPerRequest = 4000
	// MaxAccounts is the number of seller accounts the engine drives
	MaxAccounts = 2
)

// Errors for marketplace configuration
var (
	ErrConfigMissingBaseURL    = errors.New("marketplace: base url is required")
	ErrConfigNoAccounts        = errors.New("marketplace: at least one account is required")
	ErrConfigTooManyAccounts   = errors.New("marketplace: at most two accounts are supported")
	ErrConfigMissingAccountID  = errors.New("marketplace: account id is required")
	ErrConfigMissingAPIKey     = errors.New("marketplace: api key is required")
	ErrConfigMissingAPISecret  = errors.New("marketplace: api secret is required")
	ErrConfigDuplicateAccount  = errors.New("marketplace: duplicate account id")
	ErrConfigInvalidChunkSize  = errors.New("marketplace: chunk size must be between 10 and 50")
	ErrConfigInvalidElementCap = errors.New("marketplace: element cap must be between 1 and 4000")
)

// AccountConfig holds the credentials of one seller account
type AccountConfig struct {
	ID        string
	APIKey    string
	APISecret string
}

// Validate validates the account credentials
func (a *AccountConfig) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrConfigMissingAccountID
	}
	if a.APIKey == "" {
		return fmt.Errorf("%w (account %s)", ErrConfigMissingAPIKey, a.ID)
	}
	if a.APISecret == "" {
		return fmt.Errorf("%w (account %s)", ErrConfigMissingAPISecret, a.ID)
	}
	return nil
}

// Sign computes the request signature: hex HMAC-SHA256 over
// timestamp, method, path and body separated by newlines.
func (a *AccountConfig) Sign(timestamp, method, path string, body []byte) string {
	h := hmac.New(sha256.New, []byte(a.APISecret))
	h.Write([]byte(timestamp))
	h.Write([]byte{'\n'})
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ClientConfig holds configuration for the marketplace client
type ClientConfig struct {
	// BaseURL is the API root, calls go to {BaseURL}/{resource}/{action}
	BaseURL string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// Accounts are the seller accounts, at most two
	Accounts []AccountConfig
	// ChunkSize is the number of entities per bulk request
	ChunkSize int
	// MaxElementsPerRequest caps the element count of a single request
	MaxElementsPerRequest int
	// UserAgent is sent with every request
	UserAgent string
}

// Validate validates the configuration and fills in defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrConfigMissingBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if len(c.Accounts) == 0 {
		return ErrConfigNoAccounts
	}
	if len(c.Accounts) > MaxAccounts {
		return ErrConfigTooManyAccounts
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for i := range c.Accounts {
		if err := c.Accounts[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Accounts[i].ID]; dup {
			return fmt.Errorf("%w: %s", ErrConfigDuplicateAccount, c.Accounts[i].ID)
		}
		seen[c.Accounts[i].ID] = struct{}{}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return ErrConfigInvalidChunkSize
	}
	if c.MaxElementsPerRequest == 0 {
		c.MaxElementsPerRequest = MaxElementsPerRequest
	}
	if c.MaxElementsPerRequest < 0 || c.MaxElementsPerRequest > MaxElementsPerRequest {
		return ErrConfigInvalidElementCap
	}
	if c.UserAgent == "" {
		c.UserAgent = "marketsync/1.0"
	}
	return nil
}

// AccountIDs returns the configured account ids in order
func (c *ClientConfig) AccountIDs() []integration.AccountID {
	ids := make([]integration.AccountID, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		ids = append(ids, integration.AccountID(a.ID))
	}
	return ids
}
