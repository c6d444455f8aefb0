package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/market"
)

type fakeConnector struct {
	status    OrderStatus
	filled    float64
	placeErr  error
	cancelErr error
	placed    int
}

func (f *fakeConnector) PlaceLimit(_ context.Context, _ string, _ decision.Side, _, _ float64) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed++
	return "ord-1", nil
}

func (f *fakeConnector) Status(_ context.Context, _ string) (OrderStatus, float64, error) {
	return f.status, f.filled, nil
}

func (f *fakeConnector) Cancel(_ context.Context, _ string) error {
	return f.cancelErr
}

type fakeBook struct {
	open  map[string]bool
	count int
	pnl   float64
}

func (f *fakeBook) HasOpen(id string) bool               { return f.open[id] }
func (f *fakeBook) OpenCount() int                       { return f.count }
func (f *fakeBook) RealizedPnLToday(_ time.Time) float64 { return f.pnl }

type fakeRegistrar struct {
	fills []Fill
	err   error
}

func (f *fakeRegistrar) RegisterFill(_ context.Context, fill Fill) error {
	if f.err != nil {
		return f.err
	}
	f.fills = append(f.fills, fill)
	return nil
}

func testMarket() market.Market {
	return market.Market{
		ID:       "m1",
		Question: "Will it happen?",
		Category: market.CategoryPolitics,
	}
}

func testDecision() decision.TradeDecision {
	return decision.TradeDecision{
		Side:       decision.SideYes,
		SizeUSD:    50,
		EntryPrice: 30,
		Edge:       10,
		ExitConditions: []decision.ExitCondition{
			{Kind: decision.ExitInvalidation, BeliefShiftPct: 0.5},
		},
	}
}

func newTestExecutor(c *fakeConnector, book *fakeBook, reg *fakeRegistrar) *Executor {
	return NewExecutor(c, book, reg, SafetyLimits{MaxOpenPositions: 5, DailyLossLimitUSD: 50}, zerolog.Nop())
}

// TestExecuteRejectsNone refuses a NONE decision outright
func TestExecuteRejectsNone(t *testing.T) {
	e := newTestExecutor(&fakeConnector{status: OrderPending}, &fakeBook{open: map[string]bool{}}, &fakeRegistrar{})

	d := testDecision()
	d.Side = decision.SideNone

	_, err := e.Execute(context.Background(), d, belief.State{}, testMarket(), "t1", time.Now())
	assert.ErrorIs(t, err, ErrNoneDecision)
}

// TestExecuteRejectsDuplicatePosition blocks averaging down
func TestExecuteRejectsDuplicatePosition(t *testing.T) {
	conn := &fakeConnector{status: OrderPending}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{"m1": true}}, &fakeRegistrar{})

	_, err := e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	require.ErrorIs(t, err, ErrDuplicatePosition)
	assert.Zero(t, conn.placed)
}

// TestExecutePlacesSingleLimitOrder emits one limit order at the entry price
func TestExecutePlacesSingleLimitOrder(t *testing.T) {
	conn := &fakeConnector{status: OrderPending}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, &fakeRegistrar{})

	o, err := e.Execute(context.Background(), testDecision(), belief.State{Low: 40, High: 60}, testMarket(), "t1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, conn.placed)
	assert.Equal(t, 30.0, o.LimitPrice)
	assert.Equal(t, OrderPending, o.Status)
}

// TestFillRegistersPosition hands the fill to the tracker with belief
// bounds frozen at entry
func TestFillRegistersPosition(t *testing.T) {
	conn := &fakeConnector{status: OrderPending}
	reg := &fakeRegistrar{}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, reg)

	b := belief.State{Low: 40, High: 60}
	o, err := e.Execute(context.Background(), testDecision(), b, testMarket(), "t1", time.Now())
	require.NoError(t, err)

	conn.status = OrderFilled
	conn.filled = 50
	o, err = e.Poll(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, o.Status)

	require.Len(t, reg.fills, 1)
	assert.Equal(t, "m1", reg.fills[0].MarketID)
	assert.Equal(t, 40.0, reg.fills[0].BeliefLow)
	assert.Equal(t, 60.0, reg.fills[0].BeliefHigh)
	assert.Equal(t, 10.0, reg.fills[0].Edge)
}

// TestPollDoesNotDoubleRegister registers the fill exactly once
func TestPollDoesNotDoubleRegister(t *testing.T) {
	conn := &fakeConnector{status: OrderFilled, filled: 50}
	reg := &fakeRegistrar{}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, reg)

	b := belief.State{Low: 40, High: 60}
	o, err := e.Execute(context.Background(), testDecision(), b, testMarket(), "t1", time.Now())
	require.NoError(t, err)

	_, err = e.Poll(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, reg.fills, 1)
}

// TestCancelRefusesFilled refuses cancellation once filled
func TestCancelRefusesFilled(t *testing.T) {
	conn := &fakeConnector{status: OrderFilled, filled: 50}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, &fakeRegistrar{})

	o, err := e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	require.NoError(t, err)

	err = e.Cancel(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrAlreadyFilled)
}

// TestCancelOpenOrder withdraws a pending order
func TestCancelOpenOrder(t *testing.T) {
	conn := &fakeConnector{status: OrderPending}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, &fakeRegistrar{})

	o, err := e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), o.ID))
	got, ok := e.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, OrderCancelled, got.Status)
}

// TestSafetyLimits blocks trades past the open-position and daily-loss bounds
func TestSafetyLimits(t *testing.T) {
	conn := &fakeConnector{status: OrderPending}

	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}, count: 5}, &fakeRegistrar{})
	_, err := e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	assert.ErrorIs(t, err, ErrSafetyLimit)

	e = newTestExecutor(conn, &fakeBook{open: map[string]bool{}, pnl: -60}, &fakeRegistrar{})
	_, err = e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	assert.ErrorIs(t, err, ErrSafetyLimit)
}

// TestVenueRejectionWrapped surfaces venue errors as typed rejections
func TestVenueRejectionWrapped(t *testing.T) {
	conn := &fakeConnector{placeErr: errors.New("insufficient balance")}
	e := newTestExecutor(conn, &fakeBook{open: map[string]bool{}}, &fakeRegistrar{})

	_, err := e.Execute(context.Background(), testDecision(), belief.State{}, testMarket(), "t1", time.Now())
	assert.ErrorIs(t, err, ErrOrderRejected)
}
