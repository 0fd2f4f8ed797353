package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/pkg/logger"
)

// BridgeBank submits custody movements to an external signer/bridge service
// over HTTP. The bridge holds the keys; the ledger only instructs it.
type BridgeBank struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ Bank = (*BridgeBank)(nil)

// NewBridgeBank constructs a bank talking to the given bridge endpoint.
func NewBridgeBank(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*BridgeBank, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("bridge endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse bridge endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("bridge-bank")
	}
	return &BridgeBank{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

type bridgeRequest struct {
	Kind   string `json:"kind"` // "pull" or "push"
	Asset  string `json:"asset"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Amount string `json:"amount"`
}

func (b *BridgeBank) PullNative(ctx context.Context, from string, amount *big.Int) (Receipt, error) {
	return b.submit(ctx, bridgeRequest{Kind: "pull", Asset: string(asset.Native), From: from, Amount: amount.String()})
}

func (b *BridgeBank) TransferNative(ctx context.Context, to string, amount *big.Int) (Receipt, error) {
	return b.submit(ctx, bridgeRequest{Kind: "push", Asset: string(asset.Native), To: to, Amount: amount.String()})
}

func (b *BridgeBank) Pull(ctx context.Context, id asset.ID, from string, amount *big.Int) (Receipt, error) {
	return b.submit(ctx, bridgeRequest{Kind: "pull", Asset: string(id), From: from, Amount: amount.String()})
}

func (b *BridgeBank) Transfer(ctx context.Context, id asset.ID, to string, amount *big.Int) (Receipt, error) {
	return b.submit(ctx, bridgeRequest{Kind: "push", Asset: string(id), To: to, Amount: amount.String()})
}

func (b *BridgeBank) submit(ctx context.Context, req bridgeRequest) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode bridge request: %w", err)
	}

	transferURL := *b.endpoint
	transferURL.Path = strings.TrimRight(transferURL.Path, "/") + "/v1/transfers"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, transferURL.String(), bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Ref   string `json:"ref"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil && resp.StatusCode == http.StatusOK {
		return Receipt{}, fmt.Errorf("decode bridge response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return Receipt{Ref: payload.Ref}, nil
	case resp.StatusCode == http.StatusUnprocessableEntity:
		b.log.WithField("kind", req.Kind).
			WithField("asset", req.Asset).
			Warn("bridge rejected transfer")
		if payload.Error != "" {
			return Receipt{}, fmt.Errorf("%w: %s", ErrTransferRejected, payload.Error)
		}
		return Receipt{}, ErrTransferRejected
	default:
		return Receipt{}, fmt.Errorf("bridge status %d", resp.StatusCode)
	}
}
