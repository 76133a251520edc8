package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chainsift/indexer/pkg/abi"
	"github.com/chainsift/indexer/pkg/model"
	"github.com/chainsift/indexer/pkg/store"
)

// AlertConfig configures where and how AlertHandler delivers large-transfer
// notifications, following the delivery-shape of pkg/notifications.WebhookHandler.
type AlertConfig struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

func (c AlertConfig) withDefaults() AlertConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// AlertPayload is the JSON body posted to WebhookURL for every large
// transfer or mint/burn event.
type AlertPayload struct {
	ChainID         int64  `json:"chainId"`
	ContractAddress string `json:"contractAddress"`
	Symbol          string `json:"symbol"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	From            string `json:"from"`
	To              string `json:"to"`
	Reason          string `json:"reason"`
}

// AlertHandler posts an HMAC-signed webhook notification for large
// transfers and mint/burn events. A handler failure here (network error,
// non-2xx response) is logged and swallowed by the dispatcher, never
// blocking persistence.
type AlertHandler struct {
	cfg     AlertConfig
	configs store.ConfigStore
	client  *http.Client
	logger  *zap.Logger
}

// NewAlertHandler constructs an AlertHandler. A handler with an empty
// WebhookURL is inert: CanHandle always returns false. configs supplies the
// per-contract decimals/stablecoin metadata needed to classify a transfer
// independently of whatever order the dispatcher happens to run handlers in.
func NewAlertHandler(cfg AlertConfig, configs store.ConfigStore, logger *zap.Logger) *AlertHandler {
	cfg = cfg.withDefaults()
	return &AlertHandler{
		cfg:     cfg,
		configs: configs,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Named("alert_handler"),
	}
}

func (h *AlertHandler) Name() string { return "alert" }

// CanHandle matches any decoded Transfer event; Handle decides whether it is
// actually a mint, a burn, or a large transfer worth alerting on. Handlers
// run concurrently with CanHandle evaluated for all of them before any
// Handle starts, so classification can't be read off a sibling handler's
// derived fields here — it is recomputed independently in Handle.
func (h *AlertHandler) CanHandle(ev *model.BlockchainEvent) bool {
	return h.cfg.WebhookURL != "" && ev.Data.Event.Name == "Transfer"
}

// Handle recomputes the transfer's classification from the decoded args and
// posts an alert for a mint, a burn, or a large transfer. Any other transfer
// is a silent no-op.
func (h *AlertHandler) Handle(ctx context.Context, ev *model.BlockchainEvent) error {
	cfg, err := h.configs.ContractConfig(ctx, ev.ChainID, ev.ContractAddress)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	from, _ := ev.Data.Event.Args["from"].(string)
	to, _ := ev.Data.Event.Args["to"].(string)
	valueRaw, _ := ev.Data.Event.Args["value"].(string)

	raw, ok := new(big.Int).SetString(valueRaw, 10)
	if !ok {
		raw = big.NewInt(0)
	}
	_, scaled := abi.FormatAmount(raw, cfg.Metadata.Decimals)
	isLarge := abi.IsLargeTransfer(scaled, cfg.Metadata.IsStablecoin)

	var reason string
	switch {
	case from == ZeroAddressHex:
		reason = "mint"
	case to == ZeroAddressHex:
		reason = "burn"
	case isLarge:
		reason = "large_transfer"
	default:
		return nil
	}

	payload := AlertPayload{
		ChainID:         ev.ChainID,
		ContractAddress: ev.ContractAddress,
		Symbol:          ev.Data.Contract.Symbol,
		TransactionHash: ev.TransactionHash,
		BlockNumber:     ev.BlockNumber,
		From:            from,
		To:              to,
		Reason:          reason,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chainsift-indexer/1.0")
	if h.cfg.Secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+signPayload(body, h.cfg.Secret))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("alert webhook returned non-2xx", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
