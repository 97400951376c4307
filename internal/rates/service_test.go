package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qfs/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoProviderParsesRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"bitcoin":{"usd":67123.45}}`))
	}))
	defer srv.Close()

	provider := NewCoinGeckoProvider(srv.URL)
	rate, err := provider.Rate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "67123.45", rate.String())
}

func TestCoinGeckoProviderRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	provider := NewCoinGeckoProvider(srv.URL)
	_, err := provider.Rate(context.Background())
	assert.Error(t, err)
}

type stubProvider struct {
	rate decimal.Decimal
	err  error
}

func (p *stubProvider) Rate(ctx context.Context) (decimal.Decimal, error) {
	return p.rate, p.err
}

func TestCurrentFallsBackWhenFeedUnavailable(t *testing.T) {
	provider := &stubProvider{err: assert.AnError}
	fallback := decimal.NewFromInt(68000)
	svc := NewService(provider, nil, fallback, time.Minute, logger.NewNop())

	svc.refresh(context.Background())
	assert.True(t, fallback.Equal(svc.Current(context.Background())))
}

func TestCurrentServesLiveRate(t *testing.T) {
	provider := &stubProvider{rate: decimal.RequireFromString("70500.10")}
	svc := NewService(provider, nil, decimal.NewFromInt(68000), time.Minute, logger.NewNop())

	svc.refresh(context.Background())
	assert.Equal(t, "70500.1", svc.Current(context.Background()).String())
	assert.False(t, svc.FetchedAt().IsZero())
}

func TestReferenceAmountRoundsToFivePlaces(t *testing.T) {
	amount := decimal.NewFromInt(500)
	rate := decimal.NewFromInt(68000)

	got, err := ReferenceAmount(amount, rate)
	require.NoError(t, err)
	assert.Equal(t, "0.00735", got.String())

	_, err = ReferenceAmount(amount, decimal.Zero)
	assert.Error(t, err)
}
