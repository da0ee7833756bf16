package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testProxyConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Key:         "proxy-client-id",
		Secret:      "proxy-client-secret",
		Environment: "sandbox",
	}
}

func newTestProxy(t *testing.T, baseURL string) *ProxyProvider {
	t.Helper()
	p, err := NewProxyProvider(testProxyConfig(baseURL))
	assert.NoError(t, err)
	p.http.retryDelay = time.Millisecond
	return p
}

func TestProxyProvider_Authenticate(t *testing.T) {
	t.Run("no token anywhere", func(t *testing.T) {
		p := newTestProxy(t, "https://proxy.example.com")
		err := p.Authenticate(context.Background())
		assert.True(t, IsCode(err, ErrCodeAuthenticationRequired))
		assert.False(t, p.IsAuthenticated())
	})

	t.Run("request-scoped token", func(t *testing.T) {
		p := newTestProxy(t, "https://proxy.example.com")
		ctx := WithCallerToken(context.Background(), "caller-jwt")
		assert.NoError(t, p.Authenticate(ctx))
	})

	t.Run("instance token fallback", func(t *testing.T) {
		p := newTestProxy(t, "https://proxy.example.com")
		p.SetCallerToken("caller-jwt")
		assert.NoError(t, p.Authenticate(context.Background()))
		assert.True(t, p.IsAuthenticated())
	})
}

func TestProxyProvider_RequestTokenBeatsInstanceToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer request-jwt", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(proxyCustomer{ID: "c1", Status: "active", VerificationStatus: "verified"})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	p.SetCallerToken("instance-jwt")

	ctx := WithCallerToken(context.Background(), "request-jwt")
	_, err := p.GetCustomer(ctx, "c1")
	assert.NoError(t, err)
}

// Concurrent callers each carry their own credential through the shared
// adapter instance; neither request may go upstream with the other's
// token.
func TestProxyProvider_ConcurrentCallersKeepOwnTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Echo the caller's token back as the customer id.
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		json.NewEncoder(w).Encode(proxyCustomer{ID: token, Status: "active", VerificationStatus: "verified"})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)

	const rounds = 25
	var wg sync.WaitGroup
	for _, token := range []string{"user-a-jwt", "user-b-jwt"} {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			ctx := WithCallerToken(context.Background(), token)
			for i := 0; i < rounds; i++ {
				customer, err := p.GetCustomer(ctx, "me")
				if assert.NoError(t, err) {
					assert.Equal(t, token, customer.ID)
				}
			}
		}(token)
	}
	wg.Wait()
}

func TestProxyProvider_ForwardsCallerTokenAndClientHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer caller-jwt", r.Header.Get("Authorization"))
		assert.Equal(t, "proxy-client-id", r.Header.Get("X-Client-Id"))
		assert.Equal(t, "proxy-client-secret", r.Header.Get("X-Client-Secret"))
		json.NewEncoder(w).Encode(proxyCustomer{ID: "c1", Status: "active", VerificationStatus: "verified"})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	p.SetCallerToken("caller-jwt")

	customer, err := p.GetCustomer(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, "c1", customer.ID)
	assert.Equal(t, CustomerActive, customer.Status)
	assert.Equal(t, VerificationVerified, customer.VerificationStatus)
}

func TestProxyProvider_CreateTransferConvertsToCents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/payments/transfers", r.URL.Path)

		var req proxyTransferRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(12550), req.AmountCents)
		assert.Equal(t, "USD", req.Currency)

		json.NewEncoder(w).Encode(proxyTransfer{
			ID:                   "tr1",
			SourceAccountID:      req.SourceAccountID,
			DestinationAccountID: req.DestinationAccountID,
			AmountCents:          req.AmountCents,
			Currency:             req.Currency,
			Status:               "processing",
			CreatedAt:            "2026-08-20T10:00:00Z",
		})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	p.SetCallerToken("caller-jwt")

	transfer, err := p.CreateTransfer(context.Background(), TransferInput{
		SourceAccountID:      "a1",
		DestinationAccountID: "a2",
		Amount:               decimal.RequireFromString("125.50"),
		Currency:             "USD",
	})

	assert.NoError(t, err)
	assert.Equal(t, "tr1", transfer.ID)
	assert.Equal(t, TransferProcessing, transfer.Status)
	assert.True(t, transfer.Amount.Equal(decimal.RequireFromString("125.50")))
}

func TestProxyProvider_CreateTransferRejectsInvalidInput(t *testing.T) {
	p := newTestProxy(t, "https://proxy.example.com")
	p.SetCallerToken("caller-jwt")

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := p.CreateTransfer(context.Background(), TransferInput{
			SourceAccountID:      "a1",
			DestinationAccountID: "a2",
			Amount:               decimal.Zero,
			Currency:             "USD",
		})
		assert.True(t, IsCode(err, ErrCodeTransferCreationFailed))
	})

	t.Run("self transfer", func(t *testing.T) {
		_, err := p.CreateTransfer(context.Background(), TransferInput{
			SourceAccountID:      "a1",
			DestinationAccountID: "a1",
			Amount:               decimal.NewFromInt(10),
			Currency:             "USD",
		})
		assert.True(t, IsCode(err, ErrCodeTransferCreationFailed))
	})
}

func TestProxyProvider_GetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(proxyBalance{
			AvailableCents: 12550,
			CurrentCents:   14233,
			Currency:       "USD",
			AsOf:           "2026-08-20T09:30:00Z",
		})
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	p.SetCallerToken("caller-jwt")

	balance, err := p.GetBalance(context.Background(), "a1")
	assert.NoError(t, err)
	assert.True(t, balance.Available.Equal(decimal.RequireFromString("125.50")))
	assert.True(t, balance.Current.Equal(decimal.RequireFromString("142.33")))
	assert.Equal(t, "a1", balance.AccountID)
}

func TestProxyProvider_ListTransfersPaginates(t *testing.T) {
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))

		list := proxyTransferList{TotalCount: 60}
		count := 50
		if r.URL.Query().Get("offset") == "50" {
			count = 10
		}
		for i := 0; i < count; i++ {
			list.Data = append(list.Data, proxyTransfer{ID: "t", Status: "completed"})
		}
		json.NewEncoder(w).Encode(list)
	}))
	defer server.Close()

	p := newTestProxy(t, server.URL)
	p.SetCallerToken("caller-jwt")

	transfers, err := p.ListTransfers(context.Background(), "a1", 0)
	assert.NoError(t, err)
	assert.Len(t, transfers, 60)
	assert.Equal(t, []string{"0", "50"}, offsets)
}

func TestProxyProvider_HandleWebhookNotImplemented(t *testing.T) {
	p := newTestProxy(t, "https://proxy.example.com")
	_, err := p.HandleWebhook([]byte(`{}`), "sig")
	assert.True(t, IsCode(err, ErrCodeNotImplemented))
}

func TestCentsConversion(t *testing.T) {
	assert.True(t, centsToDecimal(12550).Equal(decimal.RequireFromString("125.50")))
	assert.Equal(t, int64(12550), decimalToCents(decimal.RequireFromString("125.50")))
	assert.Equal(t, int64(0), decimalToCents(decimal.Zero))
}
