package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/reshook/hook"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	grpcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	TraceMessageOperationName = "grpc.message"
)

var (
	ProcessResourceName          = "Process"
	RequestHeadersResourceName   = "RequestHeaders"
	RequestBodyResourceName      = "RequestBody"
	RequestTrailersResourceName  = "RequestTrailers"
	ResponseHeadersResourceName  = "ResponseHeaders"
	ResponseBodyResourceName     = "ResponseBody"
	ResponseTrailersResourceName = "ResponseTrailers"
)

// ExtProcessor is an Envoy external processor that runs hooks once the proxied response is complete.
// It never mutates requests or responses: every message is answered with an empty response of the
// matching type.
type ExtProcessor struct {
	hooks         []*hook.Hook
	log           logr.Logger
	tracer        trace.Tracer
	onStreamEndFn func(req *hook.RequestContext, msg *extproc.ProcessingRequest)
}

var _ extproc.ExternalProcessorServer = &ExtProcessor{}

func New(options ...Option) *ExtProcessor {
	f := &ExtProcessor{
		log: logr.Discard(),
	}
	for _, opt := range options {
		opt.apply(f)
	}
	if f.tracer == nil {
		f.tracer = noop.NewTracerProvider().Tracer(TraceMessageOperationName)
	}

	return f
}

// Process is the main entry point for the ExternalProcessor service.
// The protocol itself is based on a bidirectional gRPC stream. Envoy will send the server ProcessingRequest messages, and the server must reply with ProcessingResponse.
// https://www.envoyproxy.io/docs/envoy/latest/api-v3/extensions/filters/http/ext_proc/v3/ext_proc.proto#envoy-v3-api-msg-extensions-filters-http-ext-proc-v3-externalfilter
//
// The response is final when a response message carries end_of_stream, when response trailers
// arrive, or when Envoy closes the stream. A stream closed before any response headers were seen,
// canceled while the response body was streaming, or failing with any other error is finalized as
// aborted. Envoy may cancel the stream once it has nothing left to send, so a cancel after the
// response headers is a normal completion.
func (svc *ExtProcessor) Process(procsrv extproc.ExternalProcessor_ProcessServer) error {
	ctx := logr.NewContext(procsrv.Context(), svc.log)
	req := hook.NewRequestContext()
	chain := hook.NewChain(hook.WithLogger(svc.log), hook.WithTracer(svc.tracer))
	chain.Add(svc.hooks...)

	var last *extproc.ProcessingRequest
	var recvErr error
	defer func() {
		if !chain.Fired() {
			if streamAborted(req, recvErr) {
				req.Abort()
			}
			svc.complete(context.WithoutCancel(ctx), req, chain)
		}
		if svc.onStreamEndFn != nil {
			svc.onStreamEndFn(req, last)
		}
	}()

	for {
		procreq, err := procsrv.Recv()
		if err != nil {
			recvErr = err
			return IgnoreCanceled(err)
		}
		last = procreq

		resourceName, response, err := passThrough(procreq)
		if err != nil {
			return err
		}
		req.Process(procreq.Request)

		ctx, span := svc.tracer.Start(ctx, resourceName)
		if err := response.ValidateAll(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("%s: failed validating response: %w", resourceName, err)
		}
		if err := procsrv.Send(response); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			recvErr = err
			return IgnoreCanceled(fmt.Errorf("%s: failed sending response: %w", resourceName, err))
		}
		span.End()

		if req.EndOfStream() && !chain.Fired() {
			svc.complete(ctx, req, chain)
		}
	}
}

func (svc *ExtProcessor) complete(ctx context.Context, req *hook.RequestContext, chain *hook.Chain) {
	fired := chain.Fire(ctx, req)
	svc.log.V(1).Info("response completed", "request_id", req.RequestID(), "status", req.Status(), "aborted", req.Aborted(), "hooks", fired)
}

// passThrough builds the reply that lets Envoy continue unchanged.
func passThrough(procreq *extproc.ProcessingRequest) (string, *extproc.ProcessingResponse, error) {
	switch procreq.Request.(type) {
	// Step 1. Request headers: Contains the headers from the original HTTP request.
	case *extproc.ProcessingRequest_RequestHeaders:
		return RequestHeadersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestHeaders{RequestHeaders: &extproc.HeadersResponse{}},
		}, nil
	// Step 2. Request body: Delivered if they are present and sent in a single message if the BUFFERED or BUFFERED_PARTIAL mode is chosen, in multiple messages if the STREAMED mode is chosen, and not at all otherwise.
	case *extproc.ProcessingRequest_RequestBody:
		return RequestBodyResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestBody{RequestBody: &extproc.BodyResponse{}},
		}, nil
	// Step 3. Request trailers: Delivered if they are present and if the trailer mode is set to SEND.
	case *extproc.ProcessingRequest_RequestTrailers:
		return RequestTrailersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestTrailers{RequestTrailers: &extproc.TrailersResponse{}},
		}, nil
	// Step 4. Response headers: Contains the headers from the HTTP response. Keep in mind that if the upstream system sends them before processing the request body that this message may arrive before the complete body.
	case *extproc.ProcessingRequest_ResponseHeaders:
		return ResponseHeadersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseHeaders{ResponseHeaders: &extproc.HeadersResponse{}},
		}, nil
	// Step 5. Response body: Sent according to the processing mode like the request body.
	case *extproc.ProcessingRequest_ResponseBody:
		return ResponseBodyResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseBody{ResponseBody: &extproc.BodyResponse{}},
		}, nil
	// Step 6. Response trailers: Delivered according to the processing mode like the request trailers.
	case *extproc.ProcessingRequest_ResponseTrailers:
		return ResponseTrailersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseTrailers{ResponseTrailers: &extproc.TrailersResponse{}},
		}, nil
	}
	return "", nil, fmt.Errorf("unknown request type: %T", procreq.Request)
}

func streamAborted(req *hook.RequestContext, err error) bool {
	switch {
	case !responseStarted(req):
		return true
	case errors.Is(err, io.EOF):
		return false
	case isCanceled(err):
		return req.RequestPhase() == hook.RequestPhaseResponseBody
	}
	return true
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || status.Code(err) == grpcodes.Canceled
}

func responseStarted(req *hook.RequestContext) bool {
	switch req.RequestPhase() {
	case hook.RequestPhaseResponseHeaders, hook.RequestPhaseResponseBody, hook.RequestPhaseResponseTrailers:
		return true
	}
	return false
}

// IgnoreCanceled returns nil if the error is a context.Canceled error or an io.EOF error.
func IgnoreCanceled(err error) error {
	switch {
	case errors.Is(err, io.EOF), isCanceled(err):
		return nil
	}
	return err
}
