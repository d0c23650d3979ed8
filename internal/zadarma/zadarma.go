// Package zadarma is a client for the Zadarma telephony API, used to open a
// barrier by requesting a callback to the phone number wired to its
// controller. Requests are signed per the Zadarma scheme: an HMAC-SHA1 over
// the method path, the sorted query string, and its MD5 hex digest.
package zadarma

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.zadarma.com"

const requestCallbackMethod = "/v1/request/callback/"

type Client struct {
	http    *http.Client
	baseURL string
	key     string
	secret  string

	// fromNumber is the Zadarma-side number the callback originates from;
	// barrier controllers must have it in their allow database.
	fromNumber string
	sip        string
}

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	FromNumber string
	SIP        string
}

func NewClient(httpClient *http.Client, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        cfg.APIKey,
		secret:     cfg.APISecret,
		fromNumber: cfg.FromNumber,
		sip:        cfg.SIP,
	}
}

// FromNumber exposes the configured callback origin number for user-facing
// setup instructions.
func (c *Client) FromNumber() string { return c.fromNumber }

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RequestCallback asks Zadarma to call toNumber from the configured number.
// The "predicted" flag makes Zadarma hang up as soon as the remote side
// answers, which is all a barrier controller needs.
func (c *Client) RequestCallback(ctx context.Context, toNumber string) error {
	params := url.Values{}
	params.Set("from", c.fromNumber)
	params.Set("to", toNumber)
	params.Set("sip", c.sip)
	params.Set("predicted", "1")

	body, err := c.call(ctx, requestCallbackMethod, params)
	if err != nil {
		return err
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("zadarma: decode response: %w", err)
	}
	if out.Status != "success" {
		return fmt.Errorf("zadarma: %s", strings.TrimSpace(out.Message))
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	// url.Values.Encode sorts by key, which the signature scheme requires.
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+method+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.key+":"+sign(method, query, c.secret))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("zadarma http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func sign(method, query, secret string) string {
	querySum := md5.Sum([]byte(query))
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(method + query + hex.EncodeToString(querySum[:])))
	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(mac.Sum(nil))))
}
