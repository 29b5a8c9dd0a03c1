package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickflow/internal/marketdata"
	"tickflow/internal/pipeline"
)

var fixedNow = time.Date(2025, 12, 13, 8, 0, 0, 0, time.UTC)

func market(i int) string {
	return fmt.Sprintf(`{"conditionId":"0x%02d","slug":"m-%d","question":"Q%d?","active":true,"volumeNum":%d,"liquidityNum":"12.5",`+
		`"outcomes":"[\"Yes\", \"No\"]","outcomePrices":"[\"0.25\", \"0.75\"]","clobTokenIds":"[\"t%d-y\", \"t%d-n\"]",`+
		`"endDate":"2026-01-31T12:00:00Z","orderMinSize":5,"orderPriceMinTickSize":0.01}`, i, i, i, i*100, i, i)
}

// gammaServer serves total markets in pages and records the query of every
// request. fail maps a request number (0-based) to the status it answers with.
type gammaServer struct {
	t     *testing.T
	total int
	fail  map[int]int

	mu      sync.Mutex
	queries []map[string]string
}

func (g *gammaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(g.t, "/markets", r.URL.Path)
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	g.mu.Lock()
	n := len(g.queries)
	g.queries = append(g.queries, q)
	g.mu.Unlock()

	if code, ok := g.fail[n]; ok {
		w.WriteHeader(code)
		return
	}
	limit, _ := strconv.Atoi(q["limit"])
	offset, _ := strconv.Atoi(q["offset"])
	body := "["
	for i := offset; i < g.total && i < offset+limit; i++ {
		if i > offset {
			body += ","
		}
		body += market(i)
	}
	_, _ = io.WriteString(w, body+"]")
}

func (g *gammaServer) offsets() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.queries))
	for i, q := range g.queries {
		out[i] = q["offset"]
	}
	return out
}

func newDriver(t *testing.T, g *gammaServer, cfg Config) *Driver {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = time.Millisecond
	}
	d := New(cfg)
	d.now = func() time.Time { return fixedNow }
	return d
}

func drain(t *testing.T, d *Driver) ([]marketdata.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []marketdata.Event
	for {
		e, err := d.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

func TestNext_SingleSweepPagesUntilShortPage(t *testing.T) {
	g := &gammaServer{t: t, total: 5}
	d := newDriver(t, g, Config{PageSize: 2})
	require.NoError(t, d.Connect(context.Background()))

	events, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 5)
	assert.Equal(t, []string{"0", "2", "4"}, g.offsets())

	q := g.queries[0]
	assert.Equal(t, "false", q["closed"])
	assert.Equal(t, "2", q["limit"])
	assert.Equal(t, "2025-12-13", q["end_date_min"])

	e := events[3]
	require.NoError(t, e.Validate())
	assert.Equal(t, "market", e.Kind())
	assert.Equal(t, "0x03", e.Symbol)
	assert.True(t, e.Timestamp.Equal(fixedNow))
	m := e.Market
	assert.Equal(t, "m-3", m.Slug)
	assert.InDelta(t, 300, m.Volume, 1e-9)
	assert.InDelta(t, 12.5, m.Liquidity, 1e-9)
	assert.InDelta(t, 5, m.MinimumOrderSize, 1e-9)
	require.NotNil(t, m.EndDate)
	assert.Equal(t, 2026, m.EndDate.Year())
	assert.Equal(t, []marketdata.Outcome{{Name: "Yes", Price: 0.25, TokenID: "t3-y"}, {Name: "No", Price: 0.75, TokenID: "t3-n"}}, m.Outcomes)
}

func TestNext_ExactMultipleEndsOnEmptyPage(t *testing.T) {
	g := &gammaServer{t: t, total: 4}
	d := newDriver(t, g, Config{PageSize: 2, EndDateMin: "2025-01-01"})

	events, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	assert.Len(t, events, 4)
	assert.Equal(t, []string{"0", "2", "4"}, g.offsets())
	assert.Equal(t, "2025-01-01", g.queries[0]["end_date_min"])
}

func TestNext_ServerErrorIsTransientAndResumesAtFailedPage(t *testing.T) {
	g := &gammaServer{t: t, total: 3, fail: map[int]int{1: http.StatusBadGateway}}
	d := newDriver(t, g, Config{PageSize: 2})

	events, err := drain(t, d)
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Len(t, events, 2)

	require.NoError(t, d.Connect(context.Background()))
	rest, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	assert.Len(t, rest, 1)
	assert.Equal(t, []string{"0", "2", "2"}, g.offsets())
}

func TestNext_RateLimitIsTransient(t *testing.T) {
	g := &gammaServer{t: t, total: 1, fail: map[int]int{0: http.StatusTooManyRequests}}
	d := newDriver(t, g, Config{})

	_, err := d.Next(context.Background())
	assert.True(t, pipeline.IsTransient(err))
}

func TestNext_ClientErrorIsFatal(t *testing.T) {
	g := &gammaServer{t: t, total: 1, fail: map[int]int{0: http.StatusNotFound}}
	d := newDriver(t, g, Config{})

	_, err := d.Next(context.Background())
	require.Error(t, err)
	assert.False(t, pipeline.IsTransient(err))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestNext_MalformedPageIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"conditionId":`)
	}))
	defer srv.Close()
	d := New(Config{BaseURL: srv.URL})

	_, err := d.Next(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.IsTransient(err))
}

func TestNext_PollIntervalRepeatsSweep(t *testing.T) {
	g := &gammaServer{t: t, total: 1}
	d := newDriver(t, g, Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		e, err := d.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "0x00", e.Symbol)
	}
	assert.Equal(t, []string{"0", "0", "0"}, g.offsets())
}

func TestNext_CancelDuringPollWait(t *testing.T) {
	g := &gammaServer{t: t, total: 1}
	d := newDriver(t, g, Config{PollInterval: time.Hour})

	_, err := d.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Next(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNext_SkipsListingsWithoutConditionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"slug":"orphan"},`+market(7)+`]`)
	}))
	defer srv.Close()
	d := New(Config{BaseURL: srv.URL})

	events, err := drain(t, d)
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, events, 1)
	assert.Equal(t, "0x07", events[0].Symbol)
}

func TestStringList_AcceptsArraysAndEncodedArrays(t *testing.T) {
	var g gammaMarket
	require.NoError(t, g.Outcomes.UnmarshalJSON([]byte(`["A","B"]`)))
	assert.Equal(t, stringList{"A", "B"}, g.Outcomes)
	require.NoError(t, g.Outcomes.UnmarshalJSON([]byte(`"[\"C\"]"`)))
	assert.Equal(t, stringList{"C"}, g.Outcomes)
	require.NoError(t, g.Outcomes.UnmarshalJSON([]byte(`""`)))
	assert.Nil(t, g.Outcomes)
	assert.Error(t, g.Outcomes.UnmarshalJSON([]byte(`"nope"`)))

	var f flexFloat
	require.NoError(t, f.UnmarshalJSON([]byte(`"1.5"`)))
	assert.Equal(t, flexFloat(1.5), f)
	require.NoError(t, f.UnmarshalJSON([]byte(`null`)))
	assert.Zero(t, f)
}

func TestLoadConfig_DefaultsAndValidation(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, 200*time.Millisecond, cfg.RequestDelay)
	assert.Zero(t, cfg.PollInterval)

	t.Setenv("TICKFLOW_POLYMARKET__END_DATE_MIN", "13/12/2025")
	_, err = LoadConfig("")
	assert.Error(t, err)
}
