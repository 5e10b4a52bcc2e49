package external

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hunter-core/hunter/pkg/types"
)

type fakeOracle struct {
	snap types.OracleSnapshot
	err  error
}

func (f fakeOracle) GetSnapshot(_ context.Context, _ string) (types.OracleSnapshot, error) {
	return f.snap, f.err
}

type fakeGlobalCVD struct {
	snap types.GlobalCVDSnapshot
	err  error
}

func (f fakeGlobalCVD) GetSnapshot(_ context.Context, _ string) (types.GlobalCVDSnapshot, error) {
	return f.snap, f.err
}

func TestGateway_Oracle_NilSourceReturnsNil(t *testing.T) {
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), nil, nil)
	assert.Nil(t, g.Oracle(context.Background(), "BTCUSDT"))
}

func TestGateway_Oracle_ErroringSourceReturnsNil(t *testing.T) {
	src := fakeOracle{err: errors.New("adapter down")}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), src, nil)
	assert.Nil(t, g.Oracle(context.Background(), "BTCUSDT"))
}

func TestGateway_Oracle_StaleSnapshotReturnsNil(t *testing.T) {
	src := fakeOracle{snap: types.OracleSnapshot{
		Sentiment:  decimal.NewFromFloat(10),
		Confidence: decimal.NewFromFloat(80),
		AsOf:       time.Now().Add(-10 * time.Minute),
	}}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), src, nil)
	assert.Nil(t, g.Oracle(context.Background(), "BTCUSDT"))
}

func TestGateway_Oracle_FreshSnapshotIsReturned(t *testing.T) {
	want := types.OracleSnapshot{
		Sentiment:  decimal.NewFromFloat(10),
		Confidence: decimal.NewFromFloat(80),
		AsOf:       time.Now().Add(-time.Minute),
	}
	src := fakeOracle{snap: want}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), src, nil)

	got := g.Oracle(context.Background(), "BTCUSDT")

	if assert.NotNil(t, got) {
		assert.True(t, got.Sentiment.Equal(want.Sentiment))
		assert.True(t, got.Confidence.Equal(want.Confidence))
	}
}

func TestGateway_GlobalCVD_NilSourceReturnsNil(t *testing.T) {
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), nil, nil)
	assert.Nil(t, g.GlobalCVD(context.Background(), "BTCUSDT"))
}

func TestGateway_GlobalCVD_ErroringSourceReturnsNil(t *testing.T) {
	src := fakeGlobalCVD{err: errors.New("adapter down")}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), nil, src)
	assert.Nil(t, g.GlobalCVD(context.Background(), "BTCUSDT"))
}

func TestGateway_GlobalCVD_StaleSnapshotReturnsNil(t *testing.T) {
	src := fakeGlobalCVD{snap: types.GlobalCVDSnapshot{
		Consensus:       types.ConsensusBullish,
		DivergenceScore: decimal.NewFromFloat(20),
		ExchangesAgree:  4,
		AsOf:            time.Now().Add(-10 * time.Minute),
	}}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), nil, src)
	assert.Nil(t, g.GlobalCVD(context.Background(), "BTCUSDT"))
}

func TestGateway_GlobalCVD_FreshSnapshotIsReturned(t *testing.T) {
	want := types.GlobalCVDSnapshot{
		Consensus:       types.ConsensusBullish,
		DivergenceScore: decimal.NewFromFloat(20),
		ExchangesAgree:  4,
		AsOf:            time.Now().Add(-time.Minute),
	}
	src := fakeGlobalCVD{snap: want}
	g := NewGateway(zap.NewNop(), DefaultStalenessConfig(), nil, src)

	got := g.GlobalCVD(context.Background(), "BTCUSDT")

	if assert.NotNil(t, got) {
		assert.Equal(t, want.Consensus, got.Consensus)
		assert.Equal(t, want.ExchangesAgree, got.ExchangesAgree)
	}
}
