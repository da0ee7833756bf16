package providers

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const proxyListPageSize = 50

// ProxyProvider implements the provider contract against the internal
// payments proxy. The proxy holds the real provider credentials; this
// adapter only ever carries a caller-scoped bearer token identifying the
// authenticated end user, plus the client id registered with the proxy.
type ProxyProvider struct {
	cfg  Config
	http *httpClient

	mu          sync.Mutex
	callerToken string
}

// NewProxyProvider validates the configuration and builds the adapter.
func NewProxyProvider(cfg Config) (*ProxyProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &ProxyProvider{cfg: cfg}
	p.http = newHTTPClient(cfg.BaseURL, p.bearerToken)
	return p, nil
}

func (p *ProxyProvider) Type() Type { return TypeProxy }

// callerTokenKey is the context key for the request-scoped caller token.
type callerTokenKey struct{}

// WithCallerToken returns a context carrying the end user's bearer token.
// Tokens are request-scoped: concurrent callers each carry their own
// credential and never observe another caller's. The instance slot set by
// SetCallerToken is only a fallback for single-caller embedding.
func WithCallerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, callerTokenKey{}, token)
}

// CallerTokenFromContext extracts the caller token installed by
// WithCallerToken, or an empty string.
func CallerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(callerTokenKey{}).(string)
	return token
}

// SetCallerToken installs an instance-wide caller token. Multi-caller
// deployments must use WithCallerToken instead; this slot is shared
// across every request issued through the instance.
func (p *ProxyProvider) SetCallerToken(token string) {
	p.mu.Lock()
	p.callerToken = token
	p.mu.Unlock()
}

func (p *ProxyProvider) bearerToken(ctx context.Context) string {
	token := CallerTokenFromContext(ctx)
	if token == "" {
		p.mu.Lock()
		token = p.callerToken
		p.mu.Unlock()
	}
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

// Authenticate only verifies a caller token is reachable for this
// request; the provider handshake happens on the proxy side.
func (p *ProxyProvider) Authenticate(ctx context.Context) error {
	if CallerTokenFromContext(ctx) == "" && !p.IsAuthenticated() {
		return NewError(ErrCodeAuthenticationRequired, "no caller token set")
	}
	return nil
}

func (p *ProxyProvider) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callerToken != ""
}

func (p *ProxyProvider) clientHeader() http.Header {
	h := http.Header{}
	h.Set("X-Client-Id", p.cfg.Key)
	h.Set("X-Client-Secret", p.cfg.Secret)
	return h
}

func (p *ProxyProvider) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	var wire proxyCustomer
	err := p.http.doJSON(ctx, http.MethodPost, "/api/payments/customers", requestOptions{
		jsonBody: in,
		header:   p.clientHeader(),
	}, &wire)
	if err != nil {
		return nil, recode(err, ErrCodeCustomerCreationFailed)
	}
	if wire.ID == "" {
		return nil, NewError(ErrCodeCustomerCreationFailed, "proxy returned a customer without an id")
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var wire proxyCustomer
	err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/customers/"+id, requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*Customer, error) {
	var wire proxyCustomer
	err := p.http.doJSON(ctx, http.MethodPatch, "/api/payments/customers/"+id, requestOptions{
		jsonBody: in,
		header:   p.clientHeader(),
	}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) DeleteCustomer(ctx context.Context, id string) error {
	_, err := p.http.do(ctx, http.MethodDelete, "/api/payments/customers/"+id, requestOptions{header: p.clientHeader()})
	return recodeNotFound(err, ErrCodeCustomerNotFound)
}

func (p *ProxyProvider) LinkAccount(ctx context.Context, customerID string, in LinkAccountInput) (*Account, error) {
	var wire proxyAccount
	err := p.http.doJSON(ctx, http.MethodPost, "/api/payments/customers/"+customerID+"/accounts", requestOptions{
		jsonBody: in,
		header:   p.clientHeader(),
	}, &wire)
	if err != nil {
		return nil, recode(err, ErrCodeAccountLinkFailed)
	}
	if wire.ID == "" {
		return nil, NewError(ErrCodeAccountLinkFailed, "proxy returned an account without an id")
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) GetAccounts(ctx context.Context, customerID string) ([]Account, error) {
	var wire proxyAccountList
	err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/customers/"+customerID+"/accounts", requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}
	accounts := make([]Account, 0, len(wire.Data))
	for _, a := range wire.Data {
		accounts = append(accounts, *a.normalize())
	}
	return accounts, nil
}

func (p *ProxyProvider) GetAccount(ctx context.Context, id string) (*Account, error) {
	var wire proxyAccount
	err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/accounts/"+id, requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeAccountNotFound)
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) UnlinkAccount(ctx context.Context, id string) error {
	_, err := p.http.do(ctx, http.MethodDelete, "/api/payments/accounts/"+id, requestOptions{header: p.clientHeader()})
	return recodeNotFound(err, ErrCodeAccountNotFound)
}

func (p *ProxyProvider) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	var wire proxyBalance
	err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/accounts/"+accountID+"/balance", requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeAccountNotFound)
	}

	asOf := time.Now().UTC()
	if t, perr := time.Parse(time.RFC3339, wire.AsOf); perr == nil {
		asOf = t
	}
	return &Balance{
		AccountID: accountID,
		Available: centsToDecimal(wire.AvailableCents),
		Current:   centsToDecimal(wire.CurrentCents),
		Currency:  wire.Currency,
		AsOf:      asOf,
	}, nil
}

func (p *ProxyProvider) CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var wire proxyTransfer
	err := p.http.doJSON(ctx, http.MethodPost, "/api/payments/transfers", requestOptions{
		jsonBody: proxyTransferRequest{
			SourceAccountID:      in.SourceAccountID,
			DestinationAccountID: in.DestinationAccountID,
			AmountCents:          decimalToCents(in.Amount),
			Currency:             in.Currency,
			Metadata:             in.Metadata,
		},
		header: p.clientHeader(),
	}, &wire)
	if err != nil {
		return nil, recode(err, ErrCodeTransferCreationFailed)
	}
	if wire.ID == "" {
		return nil, NewError(ErrCodeTransferCreationFailed, "proxy returned a transfer without an id")
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var wire proxyTransfer
	err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/transfers/"+id, requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeTransferNotFound)
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) CancelTransfer(ctx context.Context, id string) (*Transfer, error) {
	var wire proxyTransfer
	err := p.http.doJSON(ctx, http.MethodPost, "/api/payments/transfers/"+id+"/cancel", requestOptions{header: p.clientHeader()}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeTransferNotFound)
	}
	return wire.normalize(), nil
}

func (p *ProxyProvider) ListTransfers(ctx context.Context, accountID string, limit int) ([]Transfer, error) {
	var transfers []Transfer

	err := paginate(ctx, proxyListPageSize, func(ctx context.Context, offset, pageSize int) (int, int, error) {
		var wire proxyTransferList
		err := p.http.doJSON(ctx, http.MethodGet, "/api/payments/accounts/"+accountID+"/transfers", requestOptions{
			query: url.Values{
				"limit":  {strconv.Itoa(pageSize)},
				"offset": {strconv.Itoa(offset)},
			},
			header: p.clientHeader(),
		}, &wire)
		if err != nil {
			return 0, 0, recodeNotFound(err, ErrCodeAccountNotFound)
		}
		for _, t := range wire.Data {
			transfers = append(transfers, *t.normalize())
		}
		return len(wire.Data), wire.TotalCount, nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

// HandleWebhook is unsupported: webhooks terminate at the proxy backend,
// never at this client, so there is no signature to verify here.
func (p *ProxyProvider) HandleWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return nil, NewError(ErrCodeNotImplemented, "webhooks are handled by the payments proxy backend")
}

// --- wire format (adapter-private) ---

type proxyCustomer struct {
	ID                 string            `json:"id"`
	FirstName          string            `json:"firstName"`
	LastName           string            `json:"lastName"`
	Email              string            `json:"email"`
	Phone              string            `json:"phone"`
	Status             string            `json:"status"`
	VerificationStatus string            `json:"verificationStatus"`
	CreatedAt          string            `json:"createdAt"`
	UpdatedAt          string            `json:"updatedAt"`
	Metadata           map[string]string `json:"metadata"`
}

type proxyAccount struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	BankName   string `json:"bankName"`
	Last4      string `json:"last4"`
}

type proxyAccountList struct {
	Data       []proxyAccount `json:"data"`
	TotalCount int            `json:"totalCount"`
}

type proxyBalance struct {
	AvailableCents int64  `json:"availableCents"`
	CurrentCents   int64  `json:"currentCents"`
	Currency       string `json:"currency"`
	AsOf           string `json:"asOf"`
}

type proxyTransferRequest struct {
	SourceAccountID      string            `json:"sourceAccountId"`
	DestinationAccountID string            `json:"destinationAccountId"`
	AmountCents          int64             `json:"amountCents"`
	Currency             string            `json:"currency"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

type proxyTransfer struct {
	ID                   string            `json:"id"`
	SourceAccountID      string            `json:"sourceAccountId"`
	DestinationAccountID string            `json:"destinationAccountId"`
	AmountCents          int64             `json:"amountCents"`
	Currency             string            `json:"currency"`
	Status               string            `json:"status"`
	Fees                 []proxyFee        `json:"fees"`
	CreatedAt            string            `json:"createdAt"`
	UpdatedAt            string            `json:"updatedAt"`
	Metadata             map[string]string `json:"metadata"`
}

type proxyFee struct {
	Type        string `json:"type"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

type proxyTransferList struct {
	Data       []proxyTransfer `json:"data"`
	TotalCount int             `json:"totalCount"`
}

// --- mapping ---

func (c *proxyCustomer) normalize() *Customer {
	return &Customer{
		ID:                 c.ID,
		FirstName:          c.FirstName,
		LastName:           c.LastName,
		Email:              c.Email,
		Phone:              c.Phone,
		Status:             mapProxyCustomerStatus(c.Status),
		VerificationStatus: mapProxyVerificationStatus(c.VerificationStatus),
		CreatedAt:          parseProxyTime(c.CreatedAt),
		UpdatedAt:          parseProxyTime(c.UpdatedAt),
		Metadata:           c.Metadata,
	}
}

func (a *proxyAccount) normalize() *Account {
	return &Account{
		ID:         a.ID,
		CustomerID: a.CustomerID,
		Name:       a.Name,
		Type:       mapProxyAccountType(a.Type),
		Status:     mapProxyAccountStatus(a.Status),
		BankName:   a.BankName,
		Last4:      a.Last4,
	}
}

func (t *proxyTransfer) normalize() *Transfer {
	var fees []Fee
	for _, f := range t.Fees {
		fees = append(fees, Fee{Type: f.Type, Amount: centsToDecimal(f.AmountCents), Currency: f.Currency})
	}
	return &Transfer{
		ID:                   t.ID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               centsToDecimal(t.AmountCents),
		Currency:             t.Currency,
		Status:               mapProxyTransferStatus(t.Status),
		Fees:                 fees,
		CreatedAt:            parseProxyTime(t.CreatedAt),
		UpdatedAt:            parseProxyTime(t.UpdatedAt),
		Metadata:             t.Metadata,
	}
}

func mapProxyCustomerStatus(s string) CustomerStatus {
	switch s {
	case "active":
		return CustomerActive
	case "suspended":
		return CustomerSuspended
	case "deactivated":
		return CustomerDeactivated
	default:
		log.Printf("[PROXY] unmapped customer status %q, defaulting to active", s)
		return CustomerActive
	}
}

func mapProxyVerificationStatus(s string) VerificationStatus {
	switch s {
	case "unverified":
		return VerificationUnverified
	case "pending":
		return VerificationPending
	case "verified":
		return VerificationVerified
	case "retry":
		return VerificationRetry
	case "document_required":
		return VerificationDocument
	case "suspended":
		return VerificationSuspended
	default:
		log.Printf("[PROXY] unmapped verification status %q, defaulting to pending", s)
		return VerificationPending
	}
}

func mapProxyAccountType(s string) AccountType {
	switch s {
	case "checking":
		return AccountChecking
	case "savings":
		return AccountSavings
	case "balance":
		return AccountBalance
	case "card":
		return AccountCard
	default:
		log.Printf("[PROXY] unmapped account type %q, defaulting to checking", s)
		return AccountChecking
	}
}

func mapProxyAccountStatus(s string) AccountStatus {
	switch s {
	case "unverified":
		return AccountUnverified
	case "pending":
		return AccountPending
	case "verified":
		return AccountVerified
	case "suspended":
		return AccountSuspended
	case "closed":
		return AccountClosed
	default:
		log.Printf("[PROXY] unmapped account status %q, defaulting to pending", s)
		return AccountPending
	}
}

func mapProxyTransferStatus(s string) TransferStatus {
	switch s {
	case "pending":
		return TransferPending
	case "processing":
		return TransferProcessing
	case "completed":
		return TransferCompleted
	case "failed":
		return TransferFailed
	case "cancelled":
		return TransferCancelled
	default:
		log.Printf("[PROXY] unmapped transfer status %q, defaulting to pending", s)
		return TransferPending
	}
}

func parseProxyTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func decimalToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
