package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testDwollaConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Key:           "client-key",
		Secret:        "client-secret",
		WebhookSecret: "whsec",
		Environment:   "sandbox",
	}
}

// newTestDwolla builds a provider against a test server with retry delays
// collapsed so failure tests stay fast.
func newTestDwolla(t *testing.T, baseURL string) *DwollaProvider {
	t.Helper()
	p, err := NewDwollaProvider(testDwollaConfig(baseURL))
	assert.NoError(t, err)
	p.http.retryDelay = time.Millisecond
	return p
}

func signDwolla(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNewDwollaProvider_ConfigValidation(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		_, err := NewDwollaProvider(Config{BaseURL: "https://x", Environment: "sandbox"})
		assert.True(t, IsCode(err, ErrCodeInvalidConfig))
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		cfg := testDwollaConfig("https://x")
		cfg.WebhookSecret = ""
		_, err := NewDwollaProvider(cfg)
		assert.True(t, IsCode(err, ErrCodeInvalidConfig))
	})

	t.Run("bad environment", func(t *testing.T) {
		cfg := testDwollaConfig("https://x")
		cfg.Environment = "staging"
		_, err := NewDwollaProvider(cfg)
		assert.True(t, IsCode(err, ErrCodeInvalidConfig))
	})
}

func TestDwollaProvider_Authenticate(t *testing.T) {
	var tokenHits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		atomic.AddInt32(&tokenHits, 1)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-key", user)
		assert.Equal(t, "client-secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		json.NewEncoder(w).Encode(dwollaTokenResponse{AccessToken: "tok-1", TokenType: "bearer", ExpiresIn: 3600})
	}))
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.False(t, p.IsAuthenticated())

	assert.NoError(t, p.Authenticate(context.Background()))
	assert.True(t, p.IsAuthenticated())

	// Cached token: no second exchange while well inside the expiry buffer.
	assert.NoError(t, p.Authenticate(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenHits))
}

func TestDwollaProvider_AuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	err := p.Authenticate(context.Background())

	assert.True(t, IsCode(err, ErrCodeAuthenticationFailed))
	assert.Equal(t, http.StatusUnauthorized, AsError(err).StatusCode)
	assert.False(t, p.IsAuthenticated())
}

func TestDwollaProvider_RequiresAuthentication(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	_, err := p.GetCustomer(context.Background(), "c1")

	assert.True(t, IsCode(err, ErrCodeAuthenticationRequired))
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

// dwollaTestServer serves a token endpoint plus the supplied handler.
func dwollaTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			json.NewEncoder(w).Encode(dwollaTokenResponse{AccessToken: "tok", ExpiresIn: 3600})
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		handler(w, r)
	}))
}

func TestDwollaProvider_CreateCustomer(t *testing.T) {
	var server *httptest.Server
	server = dwollaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/customers":
			var req dwollaCustomerRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Jane", req.FirstName)

			w.Header().Set("Location", server.URL+"/customers/abc123")
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/customers/abc123":
			json.NewEncoder(w).Encode(dwollaCustomer{
				ID:        "abc123",
				FirstName: "Jane",
				LastName:  "Doe",
				Email:     "jane@example.com",
				Status:    "verified",
				Created:   "2026-08-01T12:00:00Z",
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.NoError(t, p.Authenticate(context.Background()))

	customer, err := p.CreateCustomer(context.Background(), CustomerInput{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		Metadata:  map[string]string{"tier": "gold"},
	})

	assert.NoError(t, err)
	assert.Equal(t, "abc123", customer.ID)
	assert.Equal(t, CustomerActive, customer.Status)
	assert.Equal(t, VerificationVerified, customer.VerificationStatus)
	assert.Equal(t, "gold", customer.Metadata["tier"])
}

func TestDwollaProvider_CreateCustomerMissingLocation(t *testing.T) {
	server := dwollaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.NoError(t, p.Authenticate(context.Background()))

	_, err := p.CreateCustomer(context.Background(), CustomerInput{FirstName: "Jane", LastName: "Doe", Email: "j@x.com"})
	assert.True(t, IsCode(err, ErrCodeCustomerCreationFailed))
}

func TestDwollaProvider_GetCustomerNotFound(t *testing.T) {
	server := dwollaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.NoError(t, p.Authenticate(context.Background()))

	_, err := p.GetCustomer(context.Background(), "missing")
	assert.True(t, IsCode(err, ErrCodeCustomerNotFound))
}

func TestDwollaProvider_GetBalance(t *testing.T) {
	server := dwollaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/funding-sources/fs1/balance", r.URL.Path)
		json.NewEncoder(w).Encode(dwollaBalance{
			Balance:     dwollaAmount{Value: "125.50", Currency: "USD"},
			Total:       dwollaAmount{Value: "142.33", Currency: "USD"},
			LastUpdated: "2026-08-20T09:30:00Z",
		})
	})
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.NoError(t, p.Authenticate(context.Background()))

	balance, err := p.GetBalance(context.Background(), "fs1")
	assert.NoError(t, err)
	assert.Equal(t, "125.5", balance.Available.String())
	assert.Equal(t, "142.33", balance.Current.String())
	assert.Equal(t, "USD", balance.Currency)
}

func TestDwollaProvider_ListTransfersPaginates(t *testing.T) {
	var offsets []string
	server := dwollaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))

		var list dwollaTransferList
		list.Total = 75
		count := 50
		if r.URL.Query().Get("offset") == "50" {
			count = 25
		}
		for i := 0; i < count; i++ {
			list.Embedded.Transfers = append(list.Embedded.Transfers, dwollaTransfer{
				ID:     "t",
				Status: "processed",
				Amount: dwollaAmount{Value: "10.00", Currency: "USD"},
			})
		}
		json.NewEncoder(w).Encode(list)
	})
	defer server.Close()

	p := newTestDwolla(t, server.URL)
	assert.NoError(t, p.Authenticate(context.Background()))

	transfers, err := p.ListTransfers(context.Background(), "fs1", 0)
	assert.NoError(t, err)
	assert.Len(t, transfers, 75)
	assert.Equal(t, []string{"0", "50"}, offsets)
	assert.Equal(t, TransferCompleted, transfers[0].Status)
}

func TestDwollaProvider_HandleWebhook(t *testing.T) {
	p := newTestDwolla(t, "https://api-sandbox.dwolla.com")
	payload := []byte(`{"id":"evt-1","topic":"transfer_completed","timestamp":"2026-08-20T10:00:00Z"}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := p.HandleWebhook(payload, signDwolla("whsec", payload))
		assert.NoError(t, err)
		assert.Equal(t, "evt-1", event.ID)
		assert.Equal(t, EventTransferCompleted, event.Type)
		assert.Equal(t, json.RawMessage(payload), event.Raw)
	})

	t.Run("invalid signature", func(t *testing.T) {
		_, err := p.HandleWebhook(payload, "deadbeef")
		assert.True(t, IsCode(err, ErrCodeInvalidWebhookSignature))
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := signDwolla("whsec", payload)
		_, err := p.HandleWebhook([]byte(`{"id":"evt-2"}`), sig)
		assert.True(t, IsCode(err, ErrCodeInvalidWebhookSignature))
	})

	t.Run("unmapped topic becomes unknown", func(t *testing.T) {
		odd := []byte(`{"id":"evt-3","topic":"mass_payment_created","timestamp":"2026-08-20T10:00:00Z"}`)
		event, err := p.HandleWebhook(odd, signDwolla("whsec", odd))
		assert.NoError(t, err)
		assert.Equal(t, EventUnknown, event.Type)
	})
}

func TestDwollaStatusMapping(t *testing.T) {
	t.Run("customer statuses", func(t *testing.T) {
		status, verification := mapDwollaCustomerStatus("document")
		assert.Equal(t, CustomerActive, status)
		assert.Equal(t, VerificationDocument, verification)

		status, verification = mapDwollaCustomerStatus("suspended")
		assert.Equal(t, CustomerSuspended, status)
		assert.Equal(t, VerificationSuspended, verification)

		status, verification = mapDwollaCustomerStatus("something_new")
		assert.Equal(t, CustomerActive, status)
		assert.Equal(t, VerificationPending, verification)
	})

	t.Run("transfer statuses", func(t *testing.T) {
		assert.Equal(t, TransferCompleted, mapDwollaTransferStatus("processed"))
		assert.Equal(t, TransferCancelled, mapDwollaTransferStatus("cancelled"))
		assert.Equal(t, TransferPending, mapDwollaTransferStatus("reclaimed"))
	})

	t.Run("account types", func(t *testing.T) {
		assert.Equal(t, AccountBalance, mapDwollaAccountType("balance", ""))
		assert.Equal(t, AccountSavings, mapDwollaAccountType("bank", "savings"))
		assert.Equal(t, AccountChecking, mapDwollaAccountType("bank", "moneymarket"))
	})

	t.Run("removed funding source is closed", func(t *testing.T) {
		assert.Equal(t, AccountClosed, mapDwollaAccountStatus("verified", true))
		assert.Equal(t, AccountVerified, mapDwollaAccountStatus("verified", false))
	})
}

func TestDwollaFundingSourceNormalize(t *testing.T) {
	fs := dwollaFundingSource{
		ID:              "fs1",
		Name:            "Main Checking",
		Status:          "verified",
		Type:            "bank",
		BankAccountType: "checking",
		BankName:        "First Test Bank",
		Links: map[string]dwollaLink{
			"customer": {Href: "https://api-sandbox.dwolla.com/customers/cus42"},
		},
	}

	account := fs.normalize()
	assert.Equal(t, "fs1", account.ID)
	assert.Equal(t, "cus42", account.CustomerID)
	assert.Equal(t, AccountChecking, account.Type)
	assert.Equal(t, AccountVerified, account.Status)
}
