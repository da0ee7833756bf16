package services

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/clearfunds/backend/internal/providers"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBytes = 1_048_576 // 1 MB
	idempotencyTTL  = 24 * time.Hour
)

// PaymentService exposes the normalized provider operations over HTTP.
// It owns no state beyond the injected registry and the redis client used
// for idempotency-key de-duplication.
type PaymentService struct {
	registry  *providers.Registry
	redis     *redis.Client
	validator *ValidationHelper
}

func NewPaymentService(registry *providers.Registry, redisClient *redis.Client) *PaymentService {
	return &PaymentService{
		registry:  registry,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// resolveProvider picks the provider for a request: the explicit
// `provider` query parameter when present, otherwise the registry
// recommendation. The provider is authenticated before use; the proxied
// adapter reads the caller's bearer token from the request context, where
// the auth middleware installed it, so concurrent callers never share a
// credential.
func (ps *PaymentService) resolveProvider(r *http.Request, criteria providers.Criteria) (providers.Provider, error) {
	name := r.URL.Query().Get("provider")
	t := providers.Type(name)
	if name == "" {
		t = ps.registry.Recommend(criteria)
	}

	p, err := ps.registry.Get(t)
	if err != nil {
		return nil, err
	}

	if err := p.Authenticate(r.Context()); err != nil {
		return nil, err
	}
	return p, nil
}

// decodeBody enforces the shared request-body discipline: 1 MB cap,
// unknown fields rejected, exactly one JSON object.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxRequestBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errMultipleJSONObjects
	}
	return nil
}

var errMultipleJSONObjects = &multipleJSONObjectsError{}

type multipleJSONObjectsError struct{}

func (e *multipleJSONObjectsError) Error() string {
	return "request body must only contain a single JSON object"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// CreateCustomer creates a customer on the selected provider
// @Summary Create a customer
// @Description Create a payment customer on the selected provider
// @Tags customers
// @Accept json
// @Produce json
// @Param provider query string false "Provider type (dwolla|proxy)"
// @Param customer body providers.CustomerInput true "Customer data"
// @Success 201 {object} providers.Customer
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /customers [post]
func (ps *PaymentService) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req providers.CustomerInput
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	customer, err := provider.CreateCustomer(r.Context(), req)
	if err != nil {
		log.Printf("[PAYMENT] customer creation failed on %s: %v", provider.Type(), err)
		SendProviderError(w, err)
		return
	}

	log.Printf("[PAYMENT] customer %s created on %s", customer.ID, provider.Type())
	writeJSON(w, http.StatusCreated, customer)
}

// GetCustomer retrieves a customer
// @Summary Get customer by ID
// @Tags customers
// @Produce json
// @Param customerId path string true "Customer ID"
// @Success 200 {object} providers.Customer
// @Failure 404 {object} ErrorResponse
// @Router /customers/{customerId} [get]
func (ps *PaymentService) GetCustomer(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	customer, err := provider.GetCustomer(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// UpdateCustomer updates a customer's identity fields
// @Summary Update customer
// @Tags customers
// @Accept json
// @Produce json
// @Param customerId path string true "Customer ID"
// @Param customer body providers.CustomerInput true "Customer data"
// @Success 200 {object} providers.Customer
// @Failure 400 {object} ErrorResponse
// @Router /customers/{customerId} [put]
func (ps *PaymentService) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req providers.CustomerInput
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	customer, err := provider.UpdateCustomer(r.Context(), chi.URLParam(r, "customerId"), req)
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

// DeleteCustomer deactivates a customer (soft delete)
// @Summary Deactivate customer
// @Tags customers
// @Param customerId path string true "Customer ID"
// @Success 204 "Deactivated"
// @Failure 404 {object} ErrorResponse
// @Router /customers/{customerId} [delete]
func (ps *PaymentService) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	customerID := chi.URLParam(r, "customerId")
	if err := provider.DeleteCustomer(r.Context(), customerID); err != nil {
		SendProviderError(w, err)
		return
	}

	log.Printf("[PAYMENT] customer %s deactivated on %s", customerID, provider.Type())
	w.WriteHeader(http.StatusNoContent)
}

// MigrateCustomer re-creates a customer identity on another provider
// @Summary Migrate customer between providers
// @Description Copies identity fields only; accounts and transfer history stay behind
// @Tags customers
// @Accept json
// @Produce json
// @Param customerId path string true "Customer ID"
// @Param request body migrateCustomerRequest true "Migration request"
// @Success 201 {object} providers.Customer
// @Failure 400 {object} ErrorResponse
// @Router /customers/{customerId}/migrate [post]
func (ps *PaymentService) MigrateCustomer(w http.ResponseWriter, r *http.Request) {
	var req migrateCustomerRequest
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	migrated, err := ps.registry.MigrateCustomer(
		r.Context(),
		chi.URLParam(r, "customerId"),
		providers.Type(req.From),
		providers.Type(req.To),
	)
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, migrated)
}

type migrateCustomerRequest struct {
	From string `json:"from" validate:"required,oneof=dwolla proxy"`
	To   string `json:"to" validate:"required,oneof=dwolla proxy,nefield=From"`
}

// LinkAccount links a funding source to a customer
// @Summary Link a funding source
// @Tags accounts
// @Accept json
// @Produce json
// @Param customerId path string true "Customer ID"
// @Param account body providers.LinkAccountInput true "Account data"
// @Success 201 {object} providers.Account
// @Failure 400 {object} ErrorResponse
// @Router /customers/{customerId}/accounts [post]
func (ps *PaymentService) LinkAccount(w http.ResponseWriter, r *http.Request) {
	var req providers.LinkAccountInput
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	criteria := providers.Criteria{RequiresExternalLinking: req.PlaidToken != ""}
	provider, err := ps.resolveProvider(r, criteria)
	if err != nil {
		SendProviderError(w, err)
		return
	}

	account, err := provider.LinkAccount(r.Context(), chi.URLParam(r, "customerId"), req)
	if err != nil {
		log.Printf("[PAYMENT] account link failed on %s: %v", provider.Type(), err)
		SendProviderError(w, err)
		return
	}

	log.Printf("[PAYMENT] account %s linked for customer %s on %s", account.ID, account.CustomerID, provider.Type())
	writeJSON(w, http.StatusCreated, account)
}

// ListAccounts lists a customer's funding sources
// @Summary List funding sources
// @Tags accounts
// @Produce json
// @Param customerId path string true "Customer ID"
// @Success 200 {object} object{accounts=[]providers.Account,count=int}
// @Router /customers/{customerId}/accounts [get]
func (ps *PaymentService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	accounts, err := provider.GetAccounts(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount retrieves a single funding source
// @Summary Get funding source by ID
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} providers.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (ps *PaymentService) GetAccount(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	account, err := provider.GetAccount(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// UnlinkAccount soft-removes a funding source
// @Summary Unlink funding source
// @Tags accounts
// @Param accountId path string true "Account ID"
// @Success 204 "Unlinked"
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [delete]
func (ps *PaymentService) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	accountID := chi.URLParam(r, "accountId")
	if err := provider.UnlinkAccount(r.Context(), accountID); err != nil {
		SendProviderError(w, err)
		return
	}

	log.Printf("[PAYMENT] account %s unlinked on %s", accountID, provider.Type())
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance retrieves a fresh balance snapshot
// @Summary Get account balance
// @Description Balance is recomputed on every call, never cached
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} providers.Balance
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (ps *PaymentService) GetBalance(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	balance, err := provider.GetBalance(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type createTransferRequest struct {
	SourceAccountID      string            `json:"sourceAccountId" validate:"required"`
	DestinationAccountID string            `json:"destinationAccountId" validate:"required"`
	Amount               json.Number       `json:"amount" validate:"required"`
	Currency             string            `json:"currency" validate:"required,len=3"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	IdempotencyKey       string            `json:"idempotencyKey,omitempty"`
}

// CreateTransfer creates a transfer with idempotency-key de-duplication
// @Summary Create a transfer
// @Description Creates an ACH transfer; duplicate idempotency keys return the original transfer
// @Tags transfers
// @Accept json
// @Produce json
// @Param provider query string false "Provider type (dwolla|proxy)"
// @Param transfer body createTransferRequest true "Transfer data"
// @Success 201 {object} providers.Transfer
// @Success 200 {object} object{transfer=providers.Transfer,message=string}
// @Failure 400 {object} ErrorResponse
// @Router /transfers [post]
func (ps *PaymentService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	}

	idemKey := req.IdempotencyKey
	if headerKey := r.Header.Get("Idempotency-Key"); headerKey != "" {
		idemKey = headerKey
	}
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	provider, err := ps.resolveProvider(r, providers.Criteria{TransferAmount: amount})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	// Check for duplicate transfer (idempotency)
	if existingID := ps.lookupIdempotencyKey(r.Context(), provider.Type(), idemKey); existingID != "" {
		log.Printf("[PAYMENT] duplicate transfer for idempotency key %s, returning %s", idemKey, existingID)
		transfer, terr := provider.GetTransfer(r.Context(), existingID)
		if terr != nil {
			SendProviderError(w, terr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"transfer": transfer,
			"message":  "Transfer already processed",
		})
		return
	}

	metadata := map[string]string{"idempotencyKey": idemKey}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	transfer, err := provider.CreateTransfer(r.Context(), providers.TransferInput{
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               amount,
		Currency:             req.Currency,
		Metadata:             metadata,
	})
	if err != nil {
		log.Printf("[PAYMENT] transfer creation failed on %s: %v", provider.Type(), err)
		SendProviderError(w, err)
		return
	}

	ps.storeIdempotencyKey(r.Context(), provider.Type(), idemKey, transfer.ID)
	log.Printf("[PAYMENT] transfer %s created on %s, amount %s %s",
		transfer.ID, provider.Type(), transfer.Amount.StringFixed(2), transfer.Currency)
	writeJSON(w, http.StatusCreated, transfer)
}

// GetTransfer retrieves a transfer
// @Summary Get transfer by ID
// @Tags transfers
// @Produce json
// @Param transferId path string true "Transfer ID"
// @Success 200 {object} providers.Transfer
// @Failure 404 {object} ErrorResponse
// @Router /transfers/{transferId} [get]
func (ps *PaymentService) GetTransfer(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	transfer, err := provider.GetTransfer(r.Context(), chi.URLParam(r, "transferId"))
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// CancelTransfer requests cancellation of a transfer
// @Summary Cancel a transfer
// @Description Best-effort request; the provider may refuse once processing started
// @Tags transfers
// @Produce json
// @Param transferId path string true "Transfer ID"
// @Success 200 {object} providers.Transfer
// @Failure 404 {object} ErrorResponse
// @Router /transfers/{transferId}/cancel [post]
func (ps *PaymentService) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	transferID := chi.URLParam(r, "transferId")
	transfer, err := provider.CancelTransfer(r.Context(), transferID)
	if err != nil {
		SendProviderError(w, err)
		return
	}

	log.Printf("[PAYMENT] cancellation requested for transfer %s on %s, status now %s",
		transferID, provider.Type(), transfer.Status)
	writeJSON(w, http.StatusOK, transfer)
}

// ListTransfers lists transfers for a funding source
// @Summary List transfers for an account
// @Tags transfers
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Maximum transfers to return (default 50)"
// @Success 200 {object} object{transfers=[]providers.Transfer,count=int}
// @Router /accounts/{accountId}/transfers [get]
func (ps *PaymentService) ListTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	provider, err := ps.resolveProvider(r, providers.Criteria{})
	if err != nil {
		SendProviderError(w, err)
		return
	}

	transfers, err := provider.ListTransfers(r.Context(), chi.URLParam(r, "accountId"), limit)
	if err != nil {
		SendProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

func (ps *PaymentService) lookupIdempotencyKey(ctx context.Context, t providers.Type, key string) string {
	if ps.redis == nil {
		return ""
	}
	id, err := ps.redis.Get(ctx, idempotencyRedisKey(t, key)).Result()
	if err != nil {
		return ""
	}
	return id
}

func (ps *PaymentService) storeIdempotencyKey(ctx context.Context, t providers.Type, key, transferID string) {
	if ps.redis == nil {
		return
	}
	if err := ps.redis.Set(ctx, idempotencyRedisKey(t, key), transferID, idempotencyTTL).Err(); err != nil {
		log.Printf("[PAYMENT] failed to store idempotency key %s: %v", key, err)
	}
}

func idempotencyRedisKey(t providers.Type, key string) string {
	return "transfer_idem:" + string(t) + ":" + key
}

// parseAmount converts the wire amount (a JSON number in major units) to a
// decimal without passing through float64.
func parseAmount(n json.Number) (decimal.Decimal, error) {
	return decimal.NewFromString(n.String())
}
