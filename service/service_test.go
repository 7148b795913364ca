package service_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/reshook/hook"
	"github.com/getyourguide/reshook/service"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeStream replays messages and records the replies. Once the messages are consumed Recv returns err.
type fakeStream struct {
	grpc.ServerStream
	ctx      context.Context
	messages []*extproc.ProcessingRequest
	err      error
	sendErr  error
	sent     []*extproc.ProcessingResponse
}

func (s *fakeStream) Context() context.Context {
	return s.ctx
}

func (s *fakeStream) Recv() (*extproc.ProcessingRequest, error) {
	if len(s.messages) == 0 {
		return nil, s.err
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *fakeStream) Send(res *extproc.ProcessingResponse) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, res)
	return nil
}

func headers(kv ...string) *corev3.HeaderMap {
	hm := &corev3.HeaderMap{}
	for i := 0; i+1 < len(kv); i += 2 {
		hm.Headers = append(hm.Headers, &corev3.HeaderValue{Key: kv[i], RawValue: []byte(kv[i+1])})
	}
	return hm
}

func requestHeadersMsg(method string) *extproc.ProcessingRequest {
	return &extproc.ProcessingRequest{
		Request: &extproc.ProcessingRequest_RequestHeaders{
			RequestHeaders: &extproc.HttpHeaders{Headers: headers(":method", method, ":path", "/", "x-request-id", "abc")},
		},
	}
}

func responseHeadersMsg(code string, endOfStream bool) *extproc.ProcessingRequest {
	return &extproc.ProcessingRequest{
		Request: &extproc.ProcessingRequest_ResponseHeaders{
			ResponseHeaders: &extproc.HttpHeaders{Headers: headers(":status", code), EndOfStream: endOfStream},
		},
	}
}

func responseBodyMsg(body string, endOfStream bool) *extproc.ProcessingRequest {
	return &extproc.ProcessingRequest{
		Request: &extproc.ProcessingRequest_ResponseBody{
			ResponseBody: &extproc.HttpBody{Body: []byte(body), EndOfStream: endOfStream},
		},
	}
}

type observed struct {
	calls   int
	status  int
	method  string
	aborted bool
	sent    int
}

func observe(stream *fakeStream, obs *observed) *hook.Hook {
	return hook.Must(hook.Custom(func(_ context.Context, req *hook.RequestContext) {
		obs.calls++
		obs.status = req.Status()
		obs.method = req.Method()
		obs.aborted = req.Aborted()
		obs.sent = len(stream.sent)
	}))
}

func TestProcess(t *testing.T) {
	t.Run("hooks fire when the stream closes", func(t *testing.T) {
		stream := &fakeStream{
			ctx:      context.Background(),
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet), responseHeadersMsg("200", false)},
			err:      io.EOF,
		}
		obs := &observed{}
		svc := service.New(service.WithHooks(observe(stream, obs)))

		require.NoError(t, svc.Process(stream))
		require.Equal(t, 1, obs.calls)
		require.Equal(t, http.StatusOK, obs.status)
		require.Equal(t, http.MethodGet, obs.method)
		require.False(t, obs.aborted)
		require.Len(t, stream.sent, 2)
		require.NotNil(t, stream.sent[0].GetRequestHeaders())
		require.NotNil(t, stream.sent[1].GetResponseHeaders())
		require.Nil(t, stream.sent[1].GetResponseHeaders().GetResponse())
	})

	t.Run("hooks fire after the end of stream reply", func(t *testing.T) {
		stream := &fakeStream{
			ctx: context.Background(),
			messages: []*extproc.ProcessingRequest{
				requestHeadersMsg(http.MethodPost),
				responseHeadersMsg("500", false),
				{Request: &extproc.ProcessingRequest_ResponseBody{ResponseBody: &extproc.HttpBody{Body: []byte("oops"), EndOfStream: true}}},
			},
			err: io.EOF,
		}
		obs := &observed{}
		svc := service.New(service.WithHooks(observe(stream, obs)))

		require.NoError(t, svc.Process(stream))
		require.Equal(t, 1, obs.calls)
		require.Equal(t, 3, obs.sent)
		require.Equal(t, http.StatusInternalServerError, obs.status)
		require.False(t, obs.aborted)
	})

	t.Run("stream closed before the response", func(t *testing.T) {
		stream := &fakeStream{
			ctx:      context.Background(),
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet)},
			err:      io.EOF,
		}
		obs := &observed{}
		svc := service.New(service.WithHooks(observe(stream, obs)))

		require.NoError(t, svc.Process(stream))
		require.Equal(t, 1, obs.calls)
		require.True(t, obs.aborted)
	})

	for _, tt := range []struct {
		name     string
		messages []*extproc.ProcessingRequest
		err      error
		want     []string
	}{
		{
			name:     "canceled after the response headers",
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet), responseHeadersMsg("200", false)},
			err:      status.Error(grpcodes.Canceled, context.Canceled.Error()),
			want:     []string{"success"},
		},
		{
			name:     "context canceled after the response headers",
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet), responseHeadersMsg("200", false)},
			err:      context.Canceled,
			want:     []string{"success"},
		},
		{
			name:     "canceled while the body streams",
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet), responseHeadersMsg("200", false), responseBodyMsg("partial", false)},
			err:      status.Error(grpcodes.Canceled, context.Canceled.Error()),
			want:     []string{"success", "aborted"},
		},
		{
			name:     "unavailable after the response headers",
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet), responseHeadersMsg("200", false)},
			err:      status.Error(grpcodes.Unavailable, "connection reset"),
			want:     []string{"success", "aborted"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			stream := &fakeStream{
				ctx:      context.Background(),
				messages: tt.messages,
				err:      tt.err,
			}
			var fired []string
			svc := service.New(service.WithHooks(
				hook.Must(hook.OnAborted(func(context.Context, *hook.RequestContext) { fired = append(fired, "aborted") })),
				hook.Must(hook.OnSuccess(func(context.Context, *hook.RequestContext) { fired = append(fired, "success") })),
			))

			_ = svc.Process(stream)
			require.Equal(t, tt.want, fired)
		})
	}

	t.Run("unknown message", func(t *testing.T) {
		stream := &fakeStream{
			ctx:      context.Background(),
			messages: []*extproc.ProcessingRequest{{}},
			err:      io.EOF,
		}
		require.Error(t, service.New().Process(stream))
	})

	t.Run("send error", func(t *testing.T) {
		sendErr := errors.New("broken pipe")
		stream := &fakeStream{
			ctx:      context.Background(),
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodGet)},
			err:      io.EOF,
			sendErr:  sendErr,
		}
		obs := &observed{}
		err := service.New(service.WithHooks(observe(stream, obs))).Process(stream)
		require.ErrorIs(t, err, sendErr)
		require.Equal(t, 1, obs.calls)
		require.True(t, obs.aborted)
	})

	t.Run("stream end callback", func(t *testing.T) {
		last := responseHeadersMsg("204", true)
		stream := &fakeStream{
			ctx:      context.Background(),
			messages: []*extproc.ProcessingRequest{requestHeadersMsg(http.MethodDelete), last},
			err:      io.EOF,
		}
		var got *extproc.ProcessingRequest
		var finalized bool
		svc := service.New(service.WithOnStreamEndFn(func(req *hook.RequestContext, msg *extproc.ProcessingRequest) {
			got = msg
			finalized = req.Finalized()
		}))
		require.NoError(t, svc.Process(stream))
		require.Same(t, last, got)
		require.True(t, finalized)
	})
}

func TestIgnoreCanceled(t *testing.T) {
	require.NoError(t, service.IgnoreCanceled(io.EOF))
	require.NoError(t, service.IgnoreCanceled(context.Canceled))
	require.NoError(t, service.IgnoreCanceled(status.Error(grpcodes.Canceled, "canceled")))
	require.Error(t, service.IgnoreCanceled(status.Error(grpcodes.Unavailable, "unavailable")))
}
