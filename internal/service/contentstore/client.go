package contentstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"shieldchat/internal/codec"
	"shieldchat/internal/metrics"
	"shieldchat/internal/model"
	"shieldchat/internal/utils/log"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	sourceInline  = "inline"
	sourceLRU     = "lru"
	sourceRedis   = "redis"
	sourceGateway = "gateway"

	maxBlobSize = 1 << 20
)

var (
	ErrNotFound      = errors.New("contentstore: reference not resolvable")
	ErrNotConfigured = errors.New("contentstore: no upload credentials and blob too large to inline")
)

type (
	Options struct {
		PinataURL string
		PinataJWT string
		Gateways  []string
		Timeout   time.Duration
	}

	Client struct {
		httpClient *http.Client
		pinataURL  string
		jwt        string
		gateways   []string
		blobs      *BlobCache
		metrics    *metrics.Metrics
	}

	pinRequest struct {
		PinataContent  json.RawMessage `json:"pinataContent"`
		PinataMetadata pinMetadata     `json:"pinataMetadata"`
	}

	pinMetadata struct {
		Name string `json:"name"`
	}

	pinResponse struct {
		IpfsHash string `json:"IpfsHash"`
	}
)

func NewClient(opts Options, blobs *BlobCache, m *metrics.Metrics) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	gateways := make([]string, 0, len(opts.Gateways))
	for _, g := range opts.Gateways {
		gateways = append(gateways, strings.TrimRight(g, "/"))
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		pinataURL:  strings.TrimRight(opts.PinataURL, "/"),
		jwt:        opts.PinataJWT,
		gateways:   gateways,
		blobs:      blobs,
		metrics:    m,
	}
}

// InlineRef encodes a blob directly into a reference.
func InlineRef(blob []byte) string {
	return codec.InlineRefPrefix + base64.RawURLEncoding.EncodeToString(blob)
}

// Upload stores blob (JSON) and returns its reference. Without upload
// credentials small blobs are inlined into the reference itself.
func (c *Client) Upload(ctx context.Context, blob []byte) (string, error) {
	if !json.Valid(blob) {
		return "", fmt.Errorf("contentstore: blob is not valid JSON")
	}

	var ref string
	if c.jwt == "" {
		ref = InlineRef(blob)
		if len(ref) > codec.MaxContentRefLen {
			return "", ErrNotConfigured
		}
	} else {
		var err error
		ref, err = c.pin(ctx, blob)
		if err != nil {
			return "", err
		}
	}

	if c.blobs != nil {
		c.blobs.Put(ctx, ref, blob)
	}
	return ref, nil
}

func (c *Client) pin(ctx context.Context, blob []byte) (string, error) {
	body, err := json.Marshal(&pinRequest{
		PinataContent:  blob,
		PinataMetadata: pinMetadata{Name: "shieldchat-message"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinataURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.jwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin upload: %w", err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pin upload: unexpected status %d", resp.StatusCode)
	}

	var pr pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("pin upload: %w", err)
	}
	if !codec.IsContentRef(pr.IpfsHash) {
		return "", fmt.Errorf("pin upload: unexpected reference %q", pr.IpfsHash)
	}
	return pr.IpfsHash, nil
}

// Fetch resolves a reference: inline refs locally, then the blob cache, then
// each gateway in order. ErrNotFound once every endpoint has failed.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if payload, ok := strings.CutPrefix(ref, codec.InlineRefPrefix); ok {
		data, err := base64.RawURLEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: bad inline reference", ErrNotFound)
		}
		c.metrics.ContentFetch(sourceInline)
		return data, nil
	}

	if c.blobs != nil {
		if data, source := c.blobs.Get(ctx, ref); data != nil {
			c.metrics.ContentFetch(source)
			return data, nil
		}
	}

	for _, gw := range c.gateways {
		data, err := c.fetchFromGateway(ctx, gw, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug("gateway fetch failed", zap.String("gateway", gw), zap.String("contentRef", ref), zap.Error(err))
			continue
		}
		c.metrics.ContentFetch(sourceGateway)
		if c.blobs != nil {
			c.blobs.Put(ctx, ref, data)
		}
		return data, nil
	}
	return nil, ErrNotFound
}

func (c *Client) fetchFromGateway(ctx context.Context, gateway, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gateway+"/ipfs/"+ref, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBlobSize))
}

// UploadEnvelope serialises and uploads an envelope; the blob bytes are
// returned so the caller can hash them for the ledger write.
func (c *Client) UploadEnvelope(ctx context.Context, env *model.EncryptedEnvelope) (string, []byte, error) {
	blob, err := json.Marshal(env)
	if err != nil {
		return "", nil, err
	}
	ref, err := c.Upload(ctx, blob)
	if err != nil {
		return "", nil, err
	}
	return ref, blob, nil
}

func (c *Client) FetchEnvelope(ctx context.Context, ref string) (*model.EncryptedEnvelope, error) {
	blob, err := c.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	var env model.EncryptedEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", ref, err)
	}
	return &env, nil
}
