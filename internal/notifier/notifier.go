// Package notifier pushes projection events to an external HTTP service.
//
// Deliveries are best effort: each call runs on its own goroutine, is bounded by
// a timeout and is never retried. At most MaxInFlight deliveries run at once and
// calls beyond that are dropped. Failures are logged and counted only. Every
// request carries a deterministic Idempotency-Key derived from the event
// position so the receiver can drop duplicates caused by block replays.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	pcommon "github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/paymesh/paymesh-indexer/internal/events"
	"github.com/paymesh/paymesh-indexer/internal/logger"
	"github.com/paymesh/paymesh-indexer/internal/metrics"
	"github.com/paymesh/paymesh-indexer/pkg/config"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Kind names a notification call.
type Kind string

const (
	KindCreateGroup        Kind = "create-group"
	KindRecordPayment      Kind = "record-payment"
	KindRecordDistribution Kind = "record-distribution"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderDeliveryID     = "X-Delivery-ID"
)

type Member struct {
	Addr       string `json:"addr"`
	Percentage uint8  `json:"percentage"`
}

type CreateGroup struct {
	GroupAddress   string          `json:"group_address"`
	GroupName      string          `json:"group_name"`
	CreatedBy      string          `json:"created_by"`
	UsageRemaining decimal.Decimal `json:"usage_remaining"`
	Members        []Member        `json:"members"`
}

type RecordPayment struct {
	GroupAddress string          `json:"group_address"`
	FromAddress  string          `json:"from_address"`
	TxHash       string          `json:"tx_hash"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	TokenAddress string          `json:"token_address"`
}

type MemberAmount struct {
	MemberAddress string          `json:"member_address"`
	MemberAmount  decimal.Decimal `json:"member_amount"`
}

type RecordDistribution struct {
	GroupAddress   string          `json:"group_address"`
	TokenAddress   string          `json:"token_address"`
	TxHash         string          `json:"tx_hash"`
	UsageRemaining decimal.Decimal `json:"usage_remaining"`
	TokenAmount    decimal.Decimal `json:"token_amount"`
	Members        []MemberAmount  `json:"members"`
}

// Notifier is the outward sink for projection events. Calls never block on the
// remote service and never report errors.
type Notifier interface {
	CreateGroup(ctx context.Context, meta events.Meta, p CreateGroup)
	RecordPayment(ctx context.Context, meta events.Meta, p RecordPayment)
	RecordDistribution(ctx context.Context, meta events.Meta, p RecordDistribution)
	// Close waits for in-flight deliveries.
	Close()
}

// IdempotencyKey identifies a delivery independently of how often its block is replayed.
func IdempotencyKey(kind Kind, meta events.Meta) string {
	return fmt.Sprintf("%s:%s:%d", kind, meta.TxHash.Hex(), meta.LogIndex)
}

// New returns an HTTP notifier, or a no-op one when cfg is nil or disabled.
func New(cfg *config.NotifierConfig, log *logger.Logger) Notifier {
	if cfg == nil || !cfg.Enabled {
		return Nop{}
	}
	return NewHTTPNotifier(cfg, log)
}

var _ Notifier = (*HTTPNotifier)(nil)

// HTTPNotifier posts JSON payloads to the configured endpoints.
type HTTPNotifier struct {
	cfg     *config.NotifierConfig
	client  *http.Client
	timeout time.Duration
	log     *logger.Logger

	// inFlight bounds concurrent deliveries. Its goroutines never return errors.
	inFlight errgroup.Group
}

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxInFlight = 64
)

func NewHTTPNotifier(cfg *config.NotifierConfig, log *logger.Logger) *HTTPNotifier {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}

	n := &HTTPNotifier{
		cfg:     cfg,
		client:  &http.Client{},
		timeout: timeout,
		log:     log.WithComponent(pcommon.ComponentNotifier),
	}
	n.inFlight.SetLimit(maxInFlight)

	return n
}

func (n *HTTPNotifier) CreateGroup(ctx context.Context, meta events.Meta, p CreateGroup) {
	n.send(ctx, KindCreateGroup, n.cfg.CreateGroupPath, meta, p)
}

func (n *HTTPNotifier) RecordPayment(ctx context.Context, meta events.Meta, p RecordPayment) {
	n.send(ctx, KindRecordPayment, n.cfg.RecordPaymentPath, meta, p)
}

func (n *HTTPNotifier) RecordDistribution(ctx context.Context, meta events.Meta, p RecordDistribution) {
	n.send(ctx, KindRecordDistribution, n.cfg.RecordDistributionPath, meta, p)
}

func (n *HTTPNotifier) Close() {
	_ = n.inFlight.Wait()
}

func (n *HTTPNotifier) send(ctx context.Context, kind Kind, path string, meta events.Meta, payload any) {
	key := IdempotencyKey(kind, meta)

	started := n.inFlight.TryGo(func() error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.post(ctx, path, key, payload); err != nil {
			metrics.NotificationInc(string(kind), "failed")
			n.log.Warnw("notification failed",
				"kind", kind,
				"key", key,
				"block", meta.BlockNumber,
				"error", err)
			return nil
		}

		metrics.NotificationInc(string(kind), "delivered")
		n.log.Debugw("notification delivered", "kind", kind, "key", key)
		return nil
	})
	if !started {
		metrics.NotificationInc(string(kind), "dropped")
		n.log.Warnw("too many notifications in flight, dropping",
			"kind", kind,
			"key", key,
			"block", meta.BlockNumber)
	}
}

func (n *HTTPNotifier) post(ctx context.Context, path, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	url := strings.TrimSuffix(n.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderIdempotencyKey, key)
	req.Header.Set(HeaderDeliveryID, uuid.NewString())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(msg))
	}

	return nil
}

// Nop drops every notification.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) CreateGroup(context.Context, events.Meta, CreateGroup)               {}
func (Nop) RecordPayment(context.Context, events.Meta, RecordPayment)           {}
func (Nop) RecordDistribution(context.Context, events.Meta, RecordDistribution) {}
func (Nop) Close()                                                              {}
