package hosted_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/savings-engine/gateway/hosted"
	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// INITIALIZE
// =============================================================================

func TestInitialize_Success(t *testing.T) {
	// GIVEN: A gateway returning an authorization URL
	// WHEN: Initializing a checkout
	// THEN: The session carries the redirect URL and the reference,
	//       and the request is authenticated with the secret key

	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.example/abc123",
				"access_code": "abc123",
				"reference": "sav-ref-1"
			}
		}`))
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk_test_secret", time.Second)
	session, err := g.Initialize(context.Background(), savings.PaymentInit{
		AmountMinor: 4_000_000,
		PayerEmail:  "user@example.com",
		Reference:   "sav-ref-1",
		Metadata:    map[string]string{"plan_id": "plan-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/abc123", session.RedirectURL)
	assert.Equal(t, "sav-ref-1", session.Reference)
	assert.NotEmpty(t, session.Raw)

	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.Equal(t, float64(4_000_000), gotBody["amount"], "amount is transmitted in minor units")
	assert.Equal(t, "user@example.com", gotBody["email"])
	assert.Equal(t, "sav-ref-1", gotBody["reference"])
}

func TestInitialize_RejectedByGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": false, "message": "Invalid key"}`))
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk_bad", time.Second)
	_, err := g.Initialize(context.Background(), savings.PaymentInit{Reference: "sav-x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid key")
}

func TestInitialize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk", time.Second)
	_, err := g.Initialize(context.Background(), savings.PaymentInit{Reference: "sav-x"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

// =============================================================================
// VERIFY
// =============================================================================

func TestVerify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/transaction/verify/sav-ref-1", r.URL.Path)
		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {"status": "success", "amount": 4000000}
		}`))
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk", time.Second)
	result, err := g.Verify(context.Background(), "sav-ref-1")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, int64(4_000_000), result.AmountMinor)
}

func TestVerify_DefinitiveFailure_IsNotAnError(t *testing.T) {
	// GIVEN: The gateway definitively reports the charge as failed
	// WHEN: Verifying
	// THEN: No error; Success=false with the gateway's status word

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {"status": "abandoned", "amount": 0}
		}`))
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk", time.Second)
	result, err := g.Verify(context.Background(), "sav-ref-1")

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "abandoned", result.Status)
}

func TestVerify_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	g := hosted.New(srv.URL, "sk", time.Second)
	_, err := g.Verify(context.Background(), "sav-ref-1")

	assert.Error(t, err, "unreachable gateway must surface as an error, not a decline")
}

func TestVerify_ContextCancelled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	g := hosted.New(srv.URL, "sk", 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := g.Verify(ctx, "sav-ref-1")
	assert.Error(t, err)
}
