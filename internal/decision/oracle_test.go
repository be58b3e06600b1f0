package decision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"agentrade/internal/gateway/provider"
	"agentrade/internal/market"
	"agentrade/internal/pkg/circuit"
	"agentrade/internal/store"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ID() string { return "test-model" }

func (m *mockProvider) Call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func candles(n int, start float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		p := start + float64(i)
		out[i] = market.Candle{OpenTime: int64(i) * 3_600_000, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return out
}

func sampleRequest() Request {
	return Request{
		Symbol:        "BTC/USDT",
		BaseTimeframe: "1h",
		Context: map[string][]market.Candle{
			"1h": candles(30, 100),
			"1d": candles(5, 90),
			"4h": candles(10, 95),
		},
		FundingRate: optional.Some(0.0001),
	}
}

func TestOracle_Recommend(t *testing.T) {
	p := new(mockProvider)
	p.On("Call", mock.Anything, mock.MatchedBy(func(pl provider.ChatPayload) bool {
		return pl.ExpectJSON && pl.System == systemPrompt
	})).Return(`{"action":"BUY","confidence":0.9,"stop_loss":99,"take_profit":140}`, nil).Once()

	o, err := New(Config{Provider: p})
	require.NoError(t, err)
	res, err := o.Recommend(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.True(t, res.Valid())
	assert.Equal(t, store.ActionBuy, res.Recommendation.Action)
	assert.Equal(t, "test-model", o.Model())
	p.AssertExpectations(t)
}

func TestOracle_RejectsBadRequest(t *testing.T) {
	o, err := New(Config{Provider: new(mockProvider)})
	require.NoError(t, err)

	_, err = o.Recommend(context.Background(), Request{BaseTimeframe: "1h"})
	assert.Error(t, err)

	req := sampleRequest()
	req.BaseTimeframe = "15m"
	_, err = o.Recommend(context.Background(), req)
	assert.Error(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestOracle_TransportErrorAndBreaker(t *testing.T) {
	p := new(mockProvider)
	p.On("Call", mock.Anything, mock.Anything).Return("", errors.New("connection reset"))
	breaker := circuit.New("test", 2, time.Hour)
	breaker.OnStateChange(func(string, circuit.State, circuit.State) {})
	o, err := New(Config{Provider: p, Breaker: breaker})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := o.Recommend(context.Background(), sampleRequest())
		assert.Error(t, err)
	}
	res, err := o.Recommend(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusNoSignal, res.Status)
	assert.True(t, errors.Is(res.Err, circuit.ErrOpen))
	p.AssertNumberOfCalls(t, "Call", 2)
}

func TestOracle_EmptyChoices(t *testing.T) {
	p := new(mockProvider)
	p.On("Call", mock.Anything, mock.Anything).Return("", provider.ErrEmptyChoices)
	o, err := New(Config{Provider: p})
	require.NoError(t, err)
	res, err := o.Recommend(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusNoSignal, res.Status)
	assert.True(t, errors.Is(res.Err, ErrEmptyReply))
}

func TestBuildPrompt(t *testing.T) {
	strat := DefaultCatalog().Lookup("")
	system, user := BuildPrompt(sampleRequest(), strat)
	assert.Contains(t, system, `"action"`)
	assert.Contains(t, user, "BTC/USDT")
	assert.Contains(t, user, "funding rate: 0.0100%")

	i1h := strings.Index(user, "Timeframe: 1h (last 15 candles)")
	i4h := strings.Index(user, "Timeframe: 4h (last 10 candles)")
	i1d := strings.Index(user, "Timeframe: 1d (last 5 candles)")
	require.True(t, i1h >= 0 && i4h >= 0 && i1d >= 0, user)
	assert.Less(t, i1h, i4h)
	assert.Less(t, i4h, i1d)
	assert.Contains(t, user, "- rsi=")
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`strategies:
  Scalping:
    description: Short holds
    guidance: Trade only the base timeframe momentum.
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"multi_timeframe", "scalping"}, c.Names())
	assert.Equal(t, "Short holds", c.Lookup(" SCALPING ").Description)
	assert.Equal(t, DefaultStrategy, c.Lookup("unknown").Name)

	missing, err := LoadCatalog(filepath.Join(dir, "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"multi_timeframe"}, missing.Names())

	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  bad:\n    guidance: \"\"\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("strategies:\n  x:\n    guidance: g\n    extra: 1\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}
