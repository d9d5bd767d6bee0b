package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
)

// Payload field names follow the persisted wire format: these exact keys
// are what gets content-addressed and anchored, so they must never change.
const (
	fieldAssetID  = "asset_id"
	fieldWallet   = "wallet_address"
	fieldCritical = "critical_metadata"
)

// Canonicalize serializes v into byte-identical compact JSON regardless of
// map key insertion order: keys deep-sorted, no whitespace, numbers kept in
// their encoded form. Values that cannot be serialized (funcs, channels,
// NaN) fail with ErrInvalidMetadata.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMetadata, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidMetadata, err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(t.String())
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrInvalidMetadata, err)
		}
		buf.Write(enc)
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("%w: %v", apperrors.ErrInvalidMetadata, err)
			}
			buf.Write(enc)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unsupported value %T", apperrors.ErrInvalidMetadata, v)
	}
	return nil
}

// PublishPayload assembles the content-addressed payload for an asset:
// only the critical metadata plus its identity fields. Non-critical
// metadata never enters the payload.
func PublishPayload(assetID, ownerWallet string, critical map[string]any) (map[string]any, error) {
	if assetID == "" || ownerWallet == "" || critical == nil {
		return nil, fmt.Errorf("%w: asset_id, wallet_address and critical_metadata are required", apperrors.ErrInvalidMetadata)
	}
	return map[string]any{
		fieldAssetID:  assetID,
		fieldWallet:   ownerWallet,
		fieldCritical: critical,
	}, nil
}

// ComputeCID derives the CIDv1 (raw codec, sha2-256) for an asset's
// critical metadata. Identical critical metadata always yields an
// identical CID; this equality is the basis of every verification check.
func ComputeCID(assetID, ownerWallet string, critical map[string]any) (string, error) {
	payload, err := PublishPayload(assetID, ownerWallet, critical)
	if err != nil {
		return "", err
	}
	data, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return CIDForBytes(data)
}

// CIDForBytes content-addresses an already-canonicalized payload.
func CIDForBytes(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}
