package hook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getyourguide/reshook/hook"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/require"
)

func TestChainFiresInReverseOrder(t *testing.T) {
	var order []string
	record := func(name string) hook.Callback {
		return func(context.Context, *hook.RequestContext) { order = append(order, name) }
	}

	chain := hook.NewChain()
	chain.Add(
		hook.Must(hook.Custom(record("first"))),
		hook.Must(hook.Custom(record("second"))),
	)
	chain.Add(hook.Must(hook.Custom(record("third"))))
	require.Equal(t, 3, chain.Len())

	req := hook.FromHTTPRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	req.Complete(http.StatusOK, nil, 0)
	require.Equal(t, 3, chain.Fire(context.Background(), req))
	require.Equal(t, []string{"third", "second", "first"}, order)
}

func TestChainFiresOnce(t *testing.T) {
	cb, n := counter()
	chain := hook.NewChain()
	chain.Add(hook.Must(hook.Custom(cb)))

	req := hook.FromHTTPRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, chain.Fired())
	require.Equal(t, 1, chain.Fire(context.Background(), req))
	require.Equal(t, 0, chain.Fire(context.Background(), req))
	require.True(t, chain.Fired())
	require.Equal(t, 1, *n)

	chain.Add(hook.Must(hook.Custom(cb)))
	require.Equal(t, 0, chain.Fire(context.Background(), req))
	require.Equal(t, 1, *n)
}

func TestChainFinalizesBeforeCallbacks(t *testing.T) {
	chain := hook.NewChain()
	chain.Add(hook.Must(hook.Custom(func(_ context.Context, req *hook.RequestContext) {
		require.True(t, req.Finalized())
		require.Equal(t, hook.RequestPhaseCompleted, req.RequestPhase())
	})))
	req := hook.FromHTTPRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, req.Finalized())
	require.Equal(t, 1, chain.Fire(context.Background(), req))
}

func TestChainEvaluatesPredicates(t *testing.T) {
	var fired []string
	record := func(name string) hook.Callback {
		return func(context.Context, *hook.RequestContext) { fired = append(fired, name) }
	}
	chain := hook.NewChain()
	chain.Add(
		hook.Must(hook.OnSuccess(record("success"))),
		nil,
		hook.Must(hook.OnError(record("error"))),
		hook.Must(hook.OnStatus([]int{503}, record("503"))),
	)
	require.Equal(t, 3, chain.Len())

	req := hook.FromHTTPRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	req.Complete(http.StatusServiceUnavailable, nil, 0)
	require.Equal(t, 2, chain.Fire(context.Background(), req))
	require.Equal(t, []string{"503", "error"}, fired)
}

func TestChainLogsAndCarriesLogger(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{Verbosity: 1})

	chain := hook.NewChain(hook.WithLogger(log))
	chain.Add(hook.Must(hook.OnError(func(ctx context.Context, _ *hook.RequestContext) {
		_, err := logr.FromContext(ctx)
		require.NoError(t, err)
	})).WithName("alert"))

	req := hook.FromHTTPRequest(httptest.NewRequest(http.MethodDelete, "/", nil))
	req.Complete(http.StatusInternalServerError, nil, 0)
	require.Equal(t, 1, chain.Fire(context.Background(), req))
	require.Len(t, lines, 1)
	require.True(t, strings.Contains(lines[0], `"hook"="alert"`), lines[0])
	require.True(t, strings.Contains(lines[0], `"status"=500`), lines[0])
}
