package services

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/clearfunds/backend/internal/providers"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
)

const webhookQueueKey = "webhook_events"

// WebhookService verifies and normalizes inbound provider webhooks, then
// queues the normalized events on redis for downstream consumers.
type WebhookService struct {
	registry *providers.Registry
	redis    *redis.Client
}

func NewWebhookService(registry *providers.Registry, redisClient *redis.Client) *WebhookService {
	return &WebhookService{registry: registry, redis: redisClient}
}

// HandleWebhook receives a provider webhook
// @Summary Receive a provider webhook
// @Description Verifies the webhook signature, normalizes the event and queues it for processing
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider type (dwolla|proxy)"
// @Param X-Request-Signature-SHA-256 header string false "HMAC-SHA256 payload signature"
// @Success 202 {object} object{received=bool,eventId=string,type=string}
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /webhooks/{provider} [post]
func (ws *WebhookService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := ws.registry.Get(providers.Type(chi.URLParam(r, "provider")))
	if err != nil {
		SendProviderError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(maxRequestBytes))
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get("X-Request-Signature-SHA-256")
	event, err := provider.HandleWebhook(payload, signature)
	if err != nil {
		log.Printf("[WEBHOOK] rejected %s webhook: %v", provider.Type(), err)
		SendProviderError(w, err)
		return
	}

	ws.enqueue(r, event)
	log.Printf("[WEBHOOK] accepted %s event %s (%s)", provider.Type(), event.ID, event.Type)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"received": true,
		"eventId":  event.ID,
		"type":     event.Type,
	})
}

// enqueue pushes the normalized event onto the processing queue. Queue
// failures are logged, not surfaced; the webhook is already acknowledged
// by signature verification and the provider will retry on non-2xx only.
func (ws *WebhookService) enqueue(r *http.Request, event *providers.WebhookEvent) {
	if ws.redis == nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WEBHOOK] failed to encode event %s: %v", event.ID, err)
		return
	}
	if err := ws.redis.RPush(r.Context(), webhookQueueKey, raw).Err(); err != nil {
		log.Printf("[WEBHOOK] failed to queue event %s: %v", event.ID, err)
	}
}
