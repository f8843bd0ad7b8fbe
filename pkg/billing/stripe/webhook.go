// Package stripe bridges Stripe checkout events to Ledger refills. It is the
// external billing collaborator at the engine's boundary: it only ever adds
// credits, never participates in the unlock path.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	stripe "github.com/stripe/stripe-go/v83"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

const (
	defaultAccountMetadataKey = "account_id"
	defaultCreditsMetadataKey = "credits"
	maxBodyBytes              = 256 * 1024
	seenEventLimit            = 1024
)

// Config holds webhook configuration
type Config struct {
	// Ledger receives the refills (required)
	Ledger entitlement.Ledger

	// WebhookSecret is the Stripe signing secret (required)
	WebhookSecret string

	// AccountMetadataKey is the checkout-session metadata key holding the
	// account id (default: "account_id")
	AccountMetadataKey string

	// CreditsMetadataKey is the checkout-session metadata key holding the
	// purchased credit amount (default: "credits")
	CreditsMetadataKey string

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger
}

// Webhook handles Stripe webhook deliveries
type Webhook struct {
	config Config

	// seen dedupes redelivered events; Stripe retries until it sees a 2xx
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewWebhook creates a webhook handler from config
func NewWebhook(config Config) (*Webhook, error) {
	if config.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if config.AccountMetadataKey == "" {
		config.AccountMetadataKey = defaultAccountMetadataKey
	}
	if config.CreditsMetadataKey == "" {
		config.CreditsMetadataKey = defaultCreditsMetadataKey
	}
	if config.Logger == nil {
		config.Logger = &entitlement.NoopLogger{}
	}
	return &Webhook{
		config: config,
		seen:   make(map[string]struct{}),
	}, nil
}

// ServeHTTP implements http.Handler
func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	event, err := stripe.ConstructEvent(body, sig, wh.config.WebhookSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if wh.alreadySeen(event.ID) {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := wh.processEvent(r.Context(), &event); err != nil {
		wh.config.Logger.Error("webhook processing failed",
			entitlement.Field{Key: "event_id", Value: event.ID},
			entitlement.Field{Key: "event_type", Value: string(event.Type)},
			entitlement.Field{Key: "error", Value: err.Error()})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	wh.markSeen(event.ID)
	w.WriteHeader(http.StatusOK)
}

func (wh *Webhook) processEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return wh.handleCheckoutCompleted(ctx, event)
	default:
		// Unknown event type, ignore silently
		return nil
	}
}

func (wh *Webhook) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	accountID := session.Metadata[wh.config.AccountMetadataKey]
	if accountID == "" {
		accountID = session.ClientReferenceID
	}
	if accountID == "" {
		return fmt.Errorf("checkout session %s has no account reference", session.ID)
	}

	creditsRaw := session.Metadata[wh.config.CreditsMetadataKey]
	credits, err := strconv.Atoi(creditsRaw)
	if err != nil || credits <= 0 {
		return fmt.Errorf("checkout session %s has invalid credits %q", session.ID, creditsRaw)
	}

	// The Stripe event id in the reason ties the ledger entry back to the
	// payment for reconciliation.
	_, err = wh.config.Ledger.Refill(ctx, accountID, credits, "stripe:"+event.ID)
	if err != nil {
		if errors.Is(err, entitlement.ErrUnknownAccount) {
			return fmt.Errorf("refill for unknown account %s: %w", accountID, err)
		}
		return fmt.Errorf("refill failed: %w", err)
	}

	wh.config.Logger.Info("credits refilled from checkout",
		entitlement.Field{Key: "account_id", Value: accountID},
		entitlement.Field{Key: "credits", Value: credits},
		entitlement.Field{Key: "event_id", Value: event.ID})
	return nil
}

func (wh *Webhook) alreadySeen(eventID string) bool {
	wh.mu.Lock()
	defer wh.mu.Unlock()
	_, ok := wh.seen[eventID]
	return ok
}

func (wh *Webhook) markSeen(eventID string) {
	wh.mu.Lock()
	defer wh.mu.Unlock()

	if _, ok := wh.seen[eventID]; ok {
		return
	}
	wh.seen[eventID] = struct{}{}
	wh.order = append(wh.order, eventID)
	if len(wh.order) > seenEventLimit {
		delete(wh.seen, wh.order[0])
		wh.order = wh.order[1:]
	}
}
