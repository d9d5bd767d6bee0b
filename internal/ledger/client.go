package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
)

const maxErrorBodyBytes = 1024

// Contract functions the gateway can build or submit. The *For variants
// act on behalf of an owner distinct from the sender (delegation).
const (
	FuncUpdate    = "updateIPFS"
	FuncUpdateFor = "updateIPFSFor"
	FuncDelete    = "deleteAsset"
	FuncDeleteFor = "deleteAssetFor"
)

// Anchor is the ledger's recorded state for an asset: the trust root
// during verification.
type Anchor struct {
	CID         string `json:"cid"`
	IPFSVersion uint64 `json:"ipfs_version"`
	IsDeleted   bool   `json:"is_deleted"`
}

// VerifyOutcome reports whether a stored hash matches the anchored one.
type VerifyOutcome struct {
	Valid         bool   `json:"is_valid"`
	ActualVersion uint64 `json:"actual_version"`
	IsDeleted     bool   `json:"is_deleted"`
	Message       string `json:"message"`
}

type TxDetails struct {
	CID    string `json:"cid"`
	Sender string `json:"tx_sender"`
}

// UnsignedTx is returned for externally-custodied identities; the caller
// signs and broadcasts it.
type UnsignedTx struct {
	Payload      map[string]any `json:"transaction"`
	EstimatedGas uint64         `json:"estimated_gas"`
	GasPrice     string         `json:"gas_price"`
	FunctionName string         `json:"function_name"`
}

type Receipt struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// ZeroAddress is what the contract reports when no transfer is pending.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Client relays ledger state and transactions through the chain gateway.
// It never decides application-level correctness.
type Client interface {
	GetAnchor(ctx context.Context, assetID, owner string) (Anchor, error)
	VerifyCID(ctx context.Context, assetID, owner, cid string, claimedVersion uint64) (VerifyOutcome, error)
	GetTransaction(ctx context.Context, txID, assetID string) (TxDetails, error)
	BuildUpdateTx(ctx context.Context, cid, assetID, owner, from string) (UnsignedTx, error)
	SubmitUpdate(ctx context.Context, cid, assetID, owner string, delegated bool) (string, error)
	SubmitDelete(ctx context.Context, assetID, owner string, delegated bool) (string, error)
	ConfirmTransaction(ctx context.Context, txHash string) (Receipt, error)
	PendingTransferTo(ctx context.Context, assetID, owner string) (string, error)
	InitiateTransfer(ctx context.Context, assetID, newOwner string) (string, error)
	AcceptTransfer(ctx context.Context, assetID, previousOwner string) (string, error)
	CancelTransfer(ctx context.Context, assetID string) (string, error)
	ServerWalletAddress() string
}

type client struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &client{
		log:     log.With("service", "LedgerClient"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *client) ServerWalletAddress() string { return c.cfg.ServerWallet }

func (c *client) GetAnchor(ctx context.Context, assetID, owner string) (Anchor, error) {
	var out Anchor
	path := fmt.Sprintf("/contract/assets/%s/anchor?owner=%s", url.PathEscape(assetID), url.QueryEscape(owner))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Anchor{}, fmt.Errorf("get anchor for %s: %w", assetID, err)
	}
	return out, nil
}

func (c *client) VerifyCID(ctx context.Context, assetID, owner, cid string, claimedVersion uint64) (VerifyOutcome, error) {
	req := map[string]any{
		"asset_id":        assetID,
		"owner":           owner,
		"cid":             cid,
		"claimed_version": claimedVersion,
	}
	var out VerifyOutcome
	if err := c.doJSON(ctx, http.MethodPost, "/contract/verify-cid", req, &out); err != nil {
		return VerifyOutcome{}, fmt.Errorf("verify cid for %s: %w", assetID, err)
	}
	return out, nil
}

func (c *client) GetTransaction(ctx context.Context, txID, assetID string) (TxDetails, error) {
	var out TxDetails
	path := fmt.Sprintf("/contract/tx/%s?asset_id=%s", url.PathEscape(txID), url.QueryEscape(assetID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return TxDetails{}, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	return out, nil
}

func (c *client) BuildUpdateTx(ctx context.Context, cid, assetID, owner, from string) (UnsignedTx, error) {
	function := FuncUpdate
	if !strings.EqualFold(owner, from) {
		function = FuncUpdateFor
	}
	req := map[string]any{
		"function": function,
		"asset_id": assetID,
		"owner":    owner,
		"cid":      cid,
		"from":     from,
	}
	var out UnsignedTx
	if err := c.doJSON(ctx, http.MethodPost, "/contract/tx/build", req, &out); err != nil {
		return UnsignedTx{}, fmt.Errorf("build %s tx for %s: %w", function, assetID, err)
	}
	if out.FunctionName == "" {
		out.FunctionName = function
	}
	return out, nil
}

func (c *client) SubmitUpdate(ctx context.Context, cid, assetID, owner string, delegated bool) (string, error) {
	function := FuncUpdate
	if delegated {
		function = FuncUpdateFor
	}
	return c.submit(ctx, function, assetID, owner, cid)
}

func (c *client) SubmitDelete(ctx context.Context, assetID, owner string, delegated bool) (string, error) {
	function := FuncDelete
	if delegated {
		function = FuncDeleteFor
	}
	return c.submit(ctx, function, assetID, owner, "")
}

func (c *client) submit(ctx context.Context, function, assetID, owner, cid string) (string, error) {
	req := map[string]any{
		"function": function,
		"asset_id": assetID,
		"owner":    owner,
	}
	if cid != "" {
		req["cid"] = cid
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/contract/tx/submit", req, &out); err != nil {
		return "", fmt.Errorf("submit %s for %s: %w", function, assetID, err)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("submit %s for %s: gateway returned no tx hash", function, assetID)
	}
	c.log.Info("Submitted ledger transaction", "function", function, "asset_id", assetID, "tx_hash", out.TxHash)
	return out.TxHash, nil
}

// PendingTransferTo returns the wallet a pending ownership transfer points
// at, or ZeroAddress when none is pending.
func (c *client) PendingTransferTo(ctx context.Context, assetID, owner string) (string, error) {
	var out struct {
		PendingTo string `json:"pending_to"`
	}
	path := fmt.Sprintf("/contract/assets/%s/pending-transfer?owner=%s", url.PathEscape(assetID), url.QueryEscape(owner))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", fmt.Errorf("get pending transfer for %s: %w", assetID, err)
	}
	if out.PendingTo == "" {
		return ZeroAddress, nil
	}
	return out.PendingTo, nil
}

func (c *client) InitiateTransfer(ctx context.Context, assetID, newOwner string) (string, error) {
	return c.transfer(ctx, "initiate", assetID, map[string]any{"new_owner": newOwner})
}

func (c *client) AcceptTransfer(ctx context.Context, assetID, previousOwner string) (string, error) {
	return c.transfer(ctx, "accept", assetID, map[string]any{"previous_owner": previousOwner})
}

func (c *client) CancelTransfer(ctx context.Context, assetID string) (string, error) {
	return c.transfer(ctx, "cancel", assetID, nil)
}

func (c *client) transfer(ctx context.Context, step, assetID string, extra map[string]any) (string, error) {
	req := map[string]any{"asset_id": assetID}
	for k, v := range extra {
		req[k] = v
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/contract/transfer/"+step, req, &out); err != nil {
		return "", fmt.Errorf("transfer %s for %s: %w", step, assetID, err)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("transfer %s for %s: gateway returned no tx hash", step, assetID)
	}
	return out.TxHash, nil
}

func (c *client) ConfirmTransaction(ctx context.Context, txHash string) (Receipt, error) {
	var out Receipt
	path := fmt.Sprintf("/contract/tx/%s/receipt", url.PathEscape(txHash))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Receipt{}, fmt.Errorf("confirm transaction %s: %w", txHash, err)
	}
	if out.TxHash == "" {
		out.TxHash = txHash
	}
	return out, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
