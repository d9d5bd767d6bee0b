package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
)

const (
	maxErrorBodyBytes = 1024
	// Cap on raw content carried inside a placeholder payload.
	recoveredContentLimit = 500

	// RetrievalErrorKey marks a placeholder payload returned when every
	// gateway served the object but none of it parsed. Callers use it to
	// distinguish "object unreadable" from "no object".
	RetrievalErrorKey = "retrieval_error"
)

// ContentStore is the content-addressed object store adapter.
type ContentStore interface {
	// Put stores canonicalized payload bytes and returns their CID. The
	// sidecar addresses content as CIDv1/raw/sha2-256 over the exact bytes,
	// the same derivation canonical.ComputeCID uses; the publish path
	// rejects any response that breaks this contract.
	Put(ctx context.Context, payload []byte) (string, error)
	// Get fetches and parses the payload for a CID, falling back across
	// gateways. An unparseable payload yields a placeholder carrying the
	// truncated raw content under "critical_metadata.recovered_content"
	// plus the RetrievalErrorKey marker; only total gateway failure is an
	// error (ErrContentUnavailable).
	Get(ctx context.Context, cid string) (map[string]any, error)
	// PutBatch uploads several payloads with bounded fan-out. Failures are
	// isolated per item.
	PutBatch(ctx context.Context, items []BatchItem, onProgress ProgressFunc) []BatchResult
}

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (ContentStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &client{
		log:     log.With("service", "IPFSContentStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}, nil
}

// uploadResponse mirrors the sidecar's /upload envelope. The CID arrives
// either as a bare string or as an IPLD link object {"/": "..."}.
type uploadResponse struct {
	CIDs []struct {
		CID json.RawMessage `json:"cid"`
	} `json:"cids"`
}

func (c *client) Put(ctx context.Context, payload []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "metadata.json")
	if err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: upload: %v", apperrors.ErrContentUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: upload status %d: %s", apperrors.ErrContentUnavailable, resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: upload response: %v", apperrors.ErrContentUnavailable, err)
	}
	if len(parsed.CIDs) == 0 {
		return "", fmt.Errorf("%w: upload response carried no cid", apperrors.ErrContentUnavailable)
	}
	cid, err := decodeCID(parsed.CIDs[0].CID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrContentUnavailable, err)
	}
	c.log.Debug("Stored payload", "cid", cid, "bytes", len(payload))
	return cid, nil
}

func decodeCID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var link struct {
		Slash string `json:"/"`
	}
	if err := json.Unmarshal(raw, &link); err == nil && link.Slash != "" {
		return link.Slash, nil
	}
	return "", fmt.Errorf("unable to extract cid from %s", string(raw))
}

func (c *client) Get(ctx context.Context, cid string) (map[string]any, error) {
	urls := make([]string, 0, len(c.cfg.Gateways)+1)
	urls = append(urls, fmt.Sprintf("%s/file/%s/contents", c.baseURL, cid))
	for _, g := range c.cfg.Gateways {
		urls = append(urls, fmt.Sprintf(g, cid))
	}

	var lastErr error
	for _, u := range urls {
		body, err := c.fetch(ctx, u)
		if err != nil {
			lastErr = err
			c.log.Warn("Gateway fetch failed", "url", u, "error", err)
			continue
		}
		return parsePayload(c.log, cid, body), nil
	}
	return nil, fmt.Errorf("%w: all gateways failed for %s: %v", apperrors.ErrContentUnavailable, cid, lastErr)
}

func (c *client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

// parsePayload decodes gateway content, attempting a best-effort repair of
// trailing corruption before giving up and returning a placeholder.
func parsePayload(log *logger.Logger, cid string, body []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		return payload
	}

	// Gateways occasionally append garbage after the JSON document; try
	// cutting back to the last closing brace.
	if i := bytes.LastIndexByte(body, '}'); i >= 0 {
		if err := json.Unmarshal(body[:i+1], &payload); err == nil {
			log.Info("Recovered corrupted payload", "cid", cid)
			return payload
		}
	}

	log.Error("Payload is not valid JSON and could not be repaired", "cid", cid)
	raw := string(body)
	if len(raw) > recoveredContentLimit {
		raw = raw[:recoveredContentLimit]
	}
	return map[string]any{
		"critical_metadata": map[string]any{"recovered_content": raw},
		RetrievalErrorKey:   "content is not valid JSON",
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(b))
}

// IsPlaceholder reports whether a payload returned by Get is the
// unreadable-content placeholder rather than a real object.
func IsPlaceholder(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	_, ok := payload[RetrievalErrorKey]
	return ok
}
