package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(250 * time.Millisecond)
	return c.t
}

func action(typ, fetch, corr string) ir.Action {
	return ir.Action{Type: typ, Meta: ir.Meta{Resource: "posts", Fetch: fetch}, Correlation: corr}
}

func TestMiddleware_CountsAndTimes(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := &stepClock{t: time.Unix(0, 0)}
	m, err := New(reg, WithNow(clock.now))
	require.NoError(t, err)

	ch := channel.New(channel.WithMiddleware(m.Middleware()))
	ch.Dispatch(action(ir.ActionCustomFetch, "create", "a"))
	ch.Dispatch(action(ir.ActionCustomFetch, "delete", "b"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 2, m.Pending())

	ch.Dispatch(action(ir.ActionCustomFetchSuccess, "create", "a"))
	ch.Dispatch(action(ir.ActionCustomFetchFailure, "delete", "b"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues(ir.ActionCustomFetch, "create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues(ir.ActionCustomFetchFailure, "delete")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration, "mutate_request_duration_seconds"))
}

func TestObserve_UnmatchedSettlementNotTimed(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.Observe(action(ir.ActionCustomFetchSuccess, "create", "ghost"))
	m.Observe(action(ir.ActionCustomFetch, "create", ""))
	m.Observe(action("USER_ACTION", "", ""))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 0, testutil.CollectAndCount(m.duration))
	assert.Equal(t, 3, testutil.CollectAndCount(m.actions))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.Observe(action(ir.ActionCustomFetch, "create", "a"))
	second.Observe(action(ir.ActionCustomFetch, "create", "b"))

	assert.Equal(t, 2.0, testutil.ToFloat64(first.actions.WithLabelValues(ir.ActionCustomFetch, "create")))
	assert.Same(t, first.actions, second.actions)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.Observe(action(ir.ActionCustomFetch, "create", "a"))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mutate_channel_actions_total{fetch="create",type="CUSTOM_FETCH"} 1`), body)
	assert.Contains(t, body, "mutate_requests_in_flight 1")
}
