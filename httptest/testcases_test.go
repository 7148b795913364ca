package httptest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/getyourguide/reshook/config"
	"github.com/getyourguide/reshook/hook"
	test "github.com/getyourguide/reshook/httptest"
	"github.com/stretchr/testify/require"
)

func TestInProcess(t *testing.T) {
	templateData := struct {
		Name        string
		Status      int
		HeaderName  string
		HeaderValue string
	}{
		Name:        "service unavailable",
		Status:      http.StatusServiceUnavailable,
		HeaderName:  "x-custom-header",
		HeaderValue: "value-1",
	}
	suite := test.LoadTemplate(t, "testdata/hooks.yml", templateData)
	require.Len(t, suite.Hooks, 7)
	require.Len(t, suite.Tests, 7)
	suite.Run(t)
}

func TestWithHandler(t *testing.T) {
	suite := test.Suite{
		Hooks: []config.Hook{
			{Name: "error", When: config.KindError},
			{Name: "writes", When: config.KindMethod, Methods: []string{"POST", "DELETE"}},
			{Name: "success", When: config.KindSuccess},
		},
		Tests: test.TestCases{{
			Name:  "teapot",
			Input: test.Input{Method: http.MethodDelete, Path: "/"},
			Expect: test.Expect{
				Status: http.StatusTeapot,
				Fired:  []string{"writes", "error"},
			},
		}},
	}
	suite.Run(t, test.WithHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
}

func TestRecorder(t *testing.T) {
	rec := test.NewRecorder()
	cb := rec.Callback("first")

	req := hook.NewRequestContext()
	cb(context.Background(), req)
	rec.Callback("second")(context.Background(), req)

	require.Equal(t, []string{"first", "second"}, rec.Fired(req.RequestID()))
	require.Empty(t, rec.Fired("unknown"))
}

func TestExpectAssertFired(t *testing.T) {
	expect := test.Expect{Fired: []string{"b", "a"}, NotFired: []string{"c"}}
	require.NoError(t, expect.AssertFired([]string{"b", "a"}))
	require.Error(t, expect.AssertFired([]string{"a", "b"}))
	require.Error(t, expect.AssertFired([]string{"b"}))

	expect = test.Expect{NotFired: []string{"c"}}
	require.NoError(t, expect.AssertFired(nil))
	require.Error(t, expect.AssertFired([]string{"a", "c"}))
}
