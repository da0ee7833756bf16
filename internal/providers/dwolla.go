package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// dwollaTokenBuffer is the safety margin before token expiry; a token
// within the buffer is treated as expired and refreshed.
const dwollaTokenBuffer = 5 * time.Minute

const dwollaListPageSize = 50

// DwollaProvider integrates directly against the Dwolla ACH API:
// client-credentials token exchange, Location-header resource creation and
// HMAC-signed webhooks.
type DwollaProvider struct {
	cfg  Config
	http *httpClient

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewDwollaProvider validates the configuration and builds the adapter.
// No network call is made here.
func NewDwollaProvider(cfg Config) (*DwollaProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WebhookSecret == "" {
		return nil, NewError(ErrCodeInvalidConfig, "dwolla webhook secret is required")
	}
	p := &DwollaProvider{cfg: cfg}
	p.http = newHTTPClient(cfg.BaseURL, p.bearerToken)
	return p, nil
}

func (p *DwollaProvider) Type() Type { return TypeDwolla }

// bearerToken returns the Authorization header value, or empty when no
// unexpired token is cached. The token is instance-wide client
// credential state, so the request context is unused.
func (p *DwollaProvider) bearerToken(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || !time.Now().Before(p.tokenExpiry) {
		return ""
	}
	return "Bearer " + p.token
}

// IsAuthenticated reports whether a token is held and not yet expired.
func (p *DwollaProvider) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != "" && time.Now().Before(p.tokenExpiry)
}

// Authenticate performs a client-credentials exchange unless the cached
// token remains valid beyond the expiry buffer. Concurrent callers may
// both refresh; each produces a valid token, so the redundant exchange is
// tolerated rather than locked out.
func (p *DwollaProvider) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	valid := p.token != "" && time.Until(p.tokenExpiry) > dwollaTokenBuffer
	p.mu.Unlock()
	if valid {
		return nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.Key + ":" + p.cfg.Secret))
	header := http.Header{}
	header.Set("Authorization", "Basic "+basic)

	var tok dwollaTokenResponse
	err := p.http.doJSON(ctx, http.MethodPost, "/token", requestOptions{
		form:     url.Values{"grant_type": {"client_credentials"}},
		header:   header,
		skipAuth: true,
	}, &tok)
	if err != nil {
		if pe := AsError(err); pe != nil && pe.Code == ErrCodeRequestFailed {
			return NewHTTPError(ErrCodeAuthenticationFailed, "token exchange rejected", pe.StatusCode, pe.Details)
		}
		return err
	}
	if tok.AccessToken == "" || tok.ExpiresIn <= 0 {
		return NewError(ErrCodeAuthenticationFailed, "token exchange returned no usable token")
	}

	p.mu.Lock()
	p.token = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	p.mu.Unlock()

	log.Printf("[DWOLLA] access token refreshed, expires in %ds", tok.ExpiresIn)
	return nil
}

// CreateCustomer creates a customer upstream. Dwolla returns only a
// Location reference, so the new resource is fetched immediately to
// produce the full normalized customer.
func (p *DwollaProvider) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	resp, err := p.http.do(ctx, http.MethodPost, "/customers", requestOptions{
		jsonBody: dwollaCustomerRequest{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
			Phone:     in.Phone,
		},
	})
	if err != nil {
		return nil, recode(err, ErrCodeCustomerCreationFailed)
	}

	id, ok := resourceIDFromLocation(resp.header)
	if !ok {
		return nil, NewError(ErrCodeCustomerCreationFailed, "creation response carried no Location reference")
	}

	customer, err := p.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	customer.Metadata = in.Metadata
	return customer, nil
}

func (p *DwollaProvider) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var wire dwollaCustomer
	err := p.http.doJSON(ctx, http.MethodGet, "/customers/"+id, requestOptions{}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}
	return wire.normalize(), nil
}

func (p *DwollaProvider) UpdateCustomer(ctx context.Context, id string, in CustomerInput) (*Customer, error) {
	var wire dwollaCustomer
	err := p.http.doJSON(ctx, http.MethodPost, "/customers/"+id, requestOptions{
		jsonBody: dwollaCustomerRequest{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
			Phone:     in.Phone,
		},
	}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}
	customer := wire.normalize()
	customer.Metadata = in.Metadata
	return customer, nil
}

// DeleteCustomer deactivates the customer; Dwolla has no hard delete.
func (p *DwollaProvider) DeleteCustomer(ctx context.Context, id string) error {
	_, err := p.http.do(ctx, http.MethodPost, "/customers/"+id, requestOptions{
		jsonBody: map[string]string{"status": "deactivated"},
	})
	return recodeNotFound(err, ErrCodeCustomerNotFound)
}

// LinkAccount attaches a funding source to a customer, following the same
// Location-reference creation pattern as CreateCustomer.
func (p *DwollaProvider) LinkAccount(ctx context.Context, customerID string, in LinkAccountInput) (*Account, error) {
	body := dwollaFundingSourceRequest{
		Name:            in.Name,
		RoutingNumber:   in.RoutingNumber,
		AccountNumber:   in.AccountNumber,
		BankAccountType: string(in.Type),
		PlaidToken:      in.PlaidToken,
	}

	resp, err := p.http.do(ctx, http.MethodPost, "/customers/"+customerID+"/funding-sources", requestOptions{jsonBody: body})
	if err != nil {
		return nil, recode(err, ErrCodeAccountLinkFailed)
	}

	id, ok := resourceIDFromLocation(resp.header)
	if !ok {
		return nil, NewError(ErrCodeAccountLinkFailed, "funding source response carried no Location reference")
	}
	return p.GetAccount(ctx, id)
}

func (p *DwollaProvider) GetAccounts(ctx context.Context, customerID string) ([]Account, error) {
	var wire dwollaFundingSourceList
	err := p.http.doJSON(ctx, http.MethodGet, "/customers/"+customerID+"/funding-sources", requestOptions{}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeCustomerNotFound)
	}

	accounts := make([]Account, 0, len(wire.Embedded.FundingSources))
	for _, fs := range wire.Embedded.FundingSources {
		accounts = append(accounts, *fs.normalize())
	}
	return accounts, nil
}

func (p *DwollaProvider) GetAccount(ctx context.Context, id string) (*Account, error) {
	var wire dwollaFundingSource
	err := p.http.doJSON(ctx, http.MethodGet, "/funding-sources/"+id, requestOptions{}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeAccountNotFound)
	}
	return wire.normalize(), nil
}

// UnlinkAccount soft-removes a funding source.
func (p *DwollaProvider) UnlinkAccount(ctx context.Context, id string) error {
	_, err := p.http.do(ctx, http.MethodPost, "/funding-sources/"+id, requestOptions{
		jsonBody: map[string]bool{"removed": true},
	})
	return recodeNotFound(err, ErrCodeAccountNotFound)
}

// GetBalance fetches a fresh snapshot; balances are never cached.
func (p *DwollaProvider) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	var wire dwollaBalance
	err := p.http.doJSON(ctx, http.MethodGet, "/funding-sources/"+accountID+"/balance", requestOptions{}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeAccountNotFound)
	}

	available, err := decimal.NewFromString(wire.Balance.Value)
	if err != nil {
		return nil, NewError(ErrCodeRequestFailed, "malformed balance amount: "+wire.Balance.Value)
	}
	current := available
	if wire.Total.Value != "" {
		if current, err = decimal.NewFromString(wire.Total.Value); err != nil {
			return nil, NewError(ErrCodeRequestFailed, "malformed total amount: "+wire.Total.Value)
		}
	}

	asOf := time.Now().UTC()
	if t, perr := time.Parse(time.RFC3339, wire.LastUpdated); perr == nil {
		asOf = t
	}
	return &Balance{
		AccountID: accountID,
		Available: available,
		Current:   current,
		Currency:  wire.Balance.Currency,
		AsOf:      asOf,
	}, nil
}

func (p *DwollaProvider) CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	body := dwollaTransferRequest{
		Links: map[string]dwollaLink{
			"source":      {Href: p.cfg.BaseURL + "/funding-sources/" + in.SourceAccountID},
			"destination": {Href: p.cfg.BaseURL + "/funding-sources/" + in.DestinationAccountID},
		},
		Amount:   dwollaAmount{Value: in.Amount.StringFixed(2), Currency: in.Currency},
		Metadata: in.Metadata,
	}

	resp, err := p.http.do(ctx, http.MethodPost, "/transfers", requestOptions{jsonBody: body})
	if err != nil {
		return nil, recode(err, ErrCodeTransferCreationFailed)
	}

	id, ok := resourceIDFromLocation(resp.header)
	if !ok {
		return nil, NewError(ErrCodeTransferCreationFailed, "transfer response carried no Location reference")
	}
	return p.GetTransfer(ctx, id)
}

func (p *DwollaProvider) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	var wire dwollaTransfer
	err := p.http.doJSON(ctx, http.MethodGet, "/transfers/"+id, requestOptions{}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeTransferNotFound)
	}
	return wire.normalize()
}

// CancelTransfer requests cancellation. Dwolla may refuse once the
// transfer has left the pending state; the refusal surfaces unchanged.
func (p *DwollaProvider) CancelTransfer(ctx context.Context, id string) (*Transfer, error) {
	var wire dwollaTransfer
	err := p.http.doJSON(ctx, http.MethodPost, "/transfers/"+id, requestOptions{
		jsonBody: map[string]string{"status": "cancelled"},
	}, &wire)
	if err != nil {
		return nil, recodeNotFound(err, ErrCodeTransferNotFound)
	}
	return wire.normalize()
}

// ListTransfers walks the paginated collection for a funding source and
// returns up to limit transfers (all of them when limit <= 0).
func (p *DwollaProvider) ListTransfers(ctx context.Context, accountID string, limit int) ([]Transfer, error) {
	var transfers []Transfer

	err := paginate(ctx, dwollaListPageSize, func(ctx context.Context, offset, pageSize int) (int, int, error) {
		var wire dwollaTransferList
		err := p.http.doJSON(ctx, http.MethodGet, "/funding-sources/"+accountID+"/transfers", requestOptions{
			query: url.Values{
				"limit":  {strconv.Itoa(pageSize)},
				"offset": {strconv.Itoa(offset)},
			},
		}, &wire)
		if err != nil {
			return 0, 0, recodeNotFound(err, ErrCodeAccountNotFound)
		}
		for _, t := range wire.Embedded.Transfers {
			normalized, nerr := t.normalize()
			if nerr != nil {
				return 0, 0, nerr
			}
			transfers = append(transfers, *normalized)
		}
		return len(wire.Embedded.Transfers), wire.Total, nil
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(transfers) > limit {
		transfers = transfers[:limit]
	}
	return transfers, nil
}

// HandleWebhook verifies the HMAC-SHA256 signature over the raw payload
// and maps the Dwolla topic into the normalized event vocabulary.
func (p *DwollaProvider) HandleWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, NewError(ErrCodeInvalidWebhookSignature, "webhook signature mismatch")
	}

	var wire dwollaWebhook
	if err := (&response{body: payload}).decode(&wire); err != nil {
		return nil, NewError(ErrCodeRequestFailed, "malformed webhook payload")
	}

	createdAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, wire.Timestamp); err == nil {
		createdAt = t
	}
	return &WebhookEvent{
		ID:        wire.ID,
		Type:      mapDwollaTopic(wire.Topic),
		Raw:       payload,
		CreatedAt: createdAt,
	}, nil
}

// recode rewrites an upstream REQUEST_FAILED into an operation-specific
// code, keeping status and details. Network and auth failures pass through.
func recode(err error, code string) error {
	if err == nil {
		return nil
	}
	if pe := AsError(err); pe != nil && pe.Code == ErrCodeRequestFailed {
		return NewHTTPError(code, pe.Message, pe.StatusCode, pe.Details)
	}
	return err
}

// recodeNotFound rewrites upstream 404s into a typed *_NOT_FOUND code.
func recodeNotFound(err error, code string) error {
	if err == nil {
		return nil
	}
	if pe := AsError(err); pe != nil && pe.Code == ErrCodeRequestFailed && pe.StatusCode == http.StatusNotFound {
		return NewHTTPError(code, "resource not found", pe.StatusCode, pe.Details)
	}
	return err
}

// --- wire format (adapter-private; only mapping code touches it) ---

type dwollaTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type dwollaCustomerRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type dwollaCustomer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Status    string `json:"status"`
	Created   string `json:"created"`
}

type dwollaLink struct {
	Href string `json:"href"`
}

type dwollaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type dwollaFundingSourceRequest struct {
	Name            string `json:"name"`
	RoutingNumber   string `json:"routingNumber,omitempty"`
	AccountNumber   string `json:"accountNumber,omitempty"`
	BankAccountType string `json:"bankAccountType,omitempty"`
	PlaidToken      string `json:"plaidToken,omitempty"`
}

type dwollaFundingSource struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Status          string                `json:"status"`
	Type            string                `json:"type"`
	BankAccountType string                `json:"bankAccountType"`
	BankName        string                `json:"bankName"`
	Removed         bool                  `json:"removed"`
	Links           map[string]dwollaLink `json:"_links"`
}

type dwollaFundingSourceList struct {
	Embedded struct {
		FundingSources []dwollaFundingSource `json:"funding-sources"`
	} `json:"_embedded"`
	Total int `json:"total"`
}

type dwollaTransferRequest struct {
	Links    map[string]dwollaLink `json:"_links"`
	Amount   dwollaAmount          `json:"amount"`
	Metadata map[string]string     `json:"metadata,omitempty"`
}

type dwollaTransfer struct {
	ID       string                `json:"id"`
	Status   string                `json:"status"`
	Amount   dwollaAmount          `json:"amount"`
	Created  string                `json:"created"`
	Metadata map[string]string     `json:"metadata"`
	Fees     []dwollaFee           `json:"fees"`
	Links    map[string]dwollaLink `json:"_links"`
}

type dwollaFee struct {
	Type   string       `json:"type"`
	Amount dwollaAmount `json:"amount"`
}

type dwollaTransferList struct {
	Embedded struct {
		Transfers []dwollaTransfer `json:"transfers"`
	} `json:"_embedded"`
	Total int `json:"total"`
}

type dwollaBalance struct {
	Balance     dwollaAmount `json:"balance"`
	Total       dwollaAmount `json:"total"`
	LastUpdated string       `json:"lastUpdated"`
}

type dwollaWebhook struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
}

// --- mapping ---

func (c *dwollaCustomer) normalize() *Customer {
	status, verification := mapDwollaCustomerStatus(c.Status)
	created := parseDwollaTime(c.Created)
	return &Customer{
		ID:                 c.ID,
		FirstName:          c.FirstName,
		LastName:           c.LastName,
		Email:              c.Email,
		Phone:              c.Phone,
		Status:             status,
		VerificationStatus: verification,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

func (fs *dwollaFundingSource) normalize() *Account {
	account := &Account{
		ID:       fs.ID,
		Name:     fs.Name,
		Type:     mapDwollaAccountType(fs.Type, fs.BankAccountType),
		Status:   mapDwollaAccountStatus(fs.Status, fs.Removed),
		BankName: fs.BankName,
	}
	// The owning customer is exposed only via a link reference.
	if link, ok := fs.Links["customer"]; ok {
		if u, err := url.Parse(link.Href); err == nil {
			segments := splitPath(u.Path)
			if len(segments) > 0 {
				account.CustomerID = segments[len(segments)-1]
			}
		}
	}
	return account
}

func (t *dwollaTransfer) normalize() (*Transfer, error) {
	amount, err := decimal.NewFromString(t.Amount.Value)
	if err != nil {
		return nil, NewError(ErrCodeRequestFailed, "malformed transfer amount: "+t.Amount.Value)
	}

	var fees []Fee
	for _, f := range t.Fees {
		feeAmount, ferr := decimal.NewFromString(f.Amount.Value)
		if ferr != nil {
			return nil, NewError(ErrCodeRequestFailed, "malformed fee amount: "+f.Amount.Value)
		}
		fees = append(fees, Fee{Type: f.Type, Amount: feeAmount, Currency: f.Amount.Currency})
	}

	created := parseDwollaTime(t.Created)
	transfer := &Transfer{
		ID:        t.ID,
		Amount:    amount,
		Currency:  t.Amount.Currency,
		Status:    mapDwollaTransferStatus(t.Status),
		Fees:      fees,
		CreatedAt: created,
		UpdatedAt: created,
		Metadata:  t.Metadata,
	}
	if link, ok := t.Links["source"]; ok {
		transfer.SourceAccountID = lastPathSegment(link.Href)
	}
	if link, ok := t.Links["destination"]; ok {
		transfer.DestinationAccountID = lastPathSegment(link.Href)
	}
	return transfer, nil
}

// mapDwollaCustomerStatus folds Dwolla's single status vocabulary into the
// normalized lifecycle + verification pair. Unrecognized values fall back
// to the least-alarming pair and are logged so new upstream vocabulary is
// visible rather than silently masked.
func mapDwollaCustomerStatus(s string) (CustomerStatus, VerificationStatus) {
	switch s {
	case "unverified":
		return CustomerActive, VerificationUnverified
	case "retry":
		return CustomerActive, VerificationRetry
	case "document":
		return CustomerActive, VerificationDocument
	case "verified":
		return CustomerActive, VerificationVerified
	case "suspended":
		return CustomerSuspended, VerificationSuspended
	case "deactivated":
		return CustomerDeactivated, VerificationSuspended
	default:
		log.Printf("[DWOLLA] unmapped customer status %q, defaulting to active/pending", s)
		return CustomerActive, VerificationPending
	}
}

func mapDwollaAccountStatus(s string, removed bool) AccountStatus {
	if removed {
		return AccountClosed
	}
	switch s {
	case "unverified":
		return AccountUnverified
	case "verified":
		return AccountVerified
	default:
		log.Printf("[DWOLLA] unmapped funding source status %q, defaulting to pending", s)
		return AccountPending
	}
}

func mapDwollaAccountType(sourceType, bankAccountType string) AccountType {
	if sourceType == "balance" {
		return AccountBalance
	}
	switch bankAccountType {
	case "checking":
		return AccountChecking
	case "savings":
		return AccountSavings
	default:
		log.Printf("[DWOLLA] unmapped bank account type %q, defaulting to checking", bankAccountType)
		return AccountChecking
	}
}

func mapDwollaTransferStatus(s string) TransferStatus {
	switch s {
	case "pending":
		return TransferPending
	case "processed":
		return TransferCompleted
	case "failed":
		return TransferFailed
	case "cancelled":
		return TransferCancelled
	default:
		log.Printf("[DWOLLA] unmapped transfer status %q, defaulting to pending", s)
		return TransferPending
	}
}

var dwollaTopics = map[string]WebhookEventType{
	"customer_created":        EventCustomerCreated,
	"customer_verified":       EventCustomerVerified,
	"customer_suspended":      EventCustomerSuspended,
	"funding_source_added":    EventAccountAdded,
	"funding_source_verified": EventAccountVerified,
	"funding_source_removed":  EventAccountRemoved,
	"transfer_created":        EventTransferCreated,
	"transfer_completed":      EventTransferCompleted,
	"transfer_failed":         EventTransferFailed,
	"transfer_cancelled":      EventTransferCancelled,
}

func mapDwollaTopic(topic string) WebhookEventType {
	if t, ok := dwollaTopics[topic]; ok {
		return t
	}
	log.Printf("[DWOLLA] unmapped webhook topic %q", topic)
	return EventUnknown
}

func parseDwollaTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

func lastPathSegment(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := splitPath(u.Path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
