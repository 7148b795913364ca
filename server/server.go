package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/reshook/hook"
	"github.com/getyourguide/reshook/httptest/echo"
	"github.com/getyourguide/reshook/middleware"
	"github.com/getyourguide/reshook/service"
	"github.com/go-logr/logr"
	"google.golang.org/grpc"
)

const (
	defaultGrpcNetwork  = "tcp"
	defaultGrpcAddress  = ":8081"
	defaultHTTPBindAddr = ":8080"
)

type Server struct {
	serviceOpts []service.Option
	hooks       []*hook.Hook
	log         logr.Logger
	grpcServer  *grpc.Server
	grpcNetwork string
	grpcAddress string
	echoConfig  echoConfig
	ctx         context.Context
}

type echoConfig struct {
	enabled     bool
	bindAddress string
	mux         *http.ServeMux
	httpsrv     *http.Server
}

type Option func(*Server)

func New(ctx context.Context, opts ...Option) *Server {
	srv := &Server{
		ctx: ctx,
		log: logr.Discard(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithHooks installs hooks on the ext_proc service and on the echo server.
func WithHooks(hooks ...*hook.Hook) Option {
	return func(s *Server) {
		s.hooks = append(s.hooks, hooks...)
		s.serviceOpts = append(s.serviceOpts, service.WithHooks(hooks...))
	}
}

// WithLogger sets the logger handed to the ext_proc service and the hook middleware.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) {
		s.log = log
		s.serviceOpts = append(s.serviceOpts, service.WithLogger(log))
	}
}

func WithServiceOptions(opts ...service.Option) Option {
	return func(s *Server) {
		s.serviceOpts = append(s.serviceOpts, opts...)
	}
}

func WithGrpcServer(server *grpc.Server, network string, address string) Option {
	return func(s *Server) {
		s.grpcServer = server
		s.grpcNetwork = network
		s.grpcAddress = address
	}
}

// WithEcho starts an HTTP echo server. Its handlers run behind the configured hooks.
func WithEcho() Option {
	return func(s *Server) {
		s.echoConfig.enabled = true
	}
}

func WithEchoServerMux(mux *http.ServeMux, address string) Option {
	return func(s *Server) {
		s.echoConfig.enabled = true
		s.echoConfig.mux = mux
		s.echoConfig.bindAddress = address
	}
}

func (s *Server) Serve() error {
	if s.ctx == nil {
		s.ctx = context.TODO()
	}

	errCh := make(chan error, 2)
	if s.echoConfig.enabled {
		if s.echoConfig.mux == nil {
			s.echoConfig.mux = http.NewServeMux()
		}
		if s.echoConfig.bindAddress == "" {
			s.echoConfig.bindAddress = defaultHTTPBindAddr
		}

		echo.Register(s.echoConfig.mux)
		interceptor := middleware.New(middleware.WithLogger(s.log))
		s.echoConfig.httpsrv = &http.Server{
			Addr:              s.echoConfig.bindAddress,
			Handler:           interceptor.Handle(s.hooks...)(s.echoConfig.mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("starting http server", "address", s.echoConfig.bindAddress)
			errCh <- s.echoConfig.httpsrv.ListenAndServe()
		}()
	}

	if s.grpcAddress == "" {
		s.grpcAddress = defaultGrpcAddress
	}
	if s.grpcNetwork == "" {
		s.grpcNetwork = defaultGrpcNetwork
	}
	if s.grpcServer == nil {
		s.grpcServer = grpc.NewServer()
	}
	go func() {
		if s.grpcNetwork == "unix" {
			os.RemoveAll(s.grpcAddress) // nolint:errcheck
		}
		listener, err := net.Listen(s.grpcNetwork, s.grpcAddress)
		if err != nil {
			errCh <- fmt.Errorf("cannot listen: %w", err)
			return
		}
		extprocService := service.New(s.serviceOpts...)
		extproc.RegisterExternalProcessorServer(s.grpcServer, extprocService)
		slog.Info("starting grpc server", "address", s.grpcAddress)
		errCh <- s.grpcServer.Serve(listener)
	}()

	select {
	case <-s.ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Stop() error {
	if s.grpcServer != nil {
		slog.Info("stopping grpc server")
		s.grpcServer.GracefulStop()
	}
	if s.grpcNetwork == "unix" {
		os.RemoveAll(s.grpcAddress) // nolint:errcheck
	}
	if s.echoConfig.httpsrv == nil {
		return nil
	}
	slog.Info("stopping http server")
	if err := s.echoConfig.httpsrv.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	return nil
}

func IsReady(s *Server) bool {
	if s.echoConfig.enabled {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/headers", s.echoConfig.bindAddress), nil)
		if err != nil {
			return false
		}
		httpClient := http.Client{
			Timeout: 5 * time.Second,
		}
		res, err := httpClient.Do(req)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return false
		}
	}
	if s.grpcServer == nil {
		return false
	}
	conn, err := net.DialTimeout(s.grpcNetwork, s.grpcAddress, time.Second)
	if err != nil {
		return false
	}
	conn.Close() // nolint:errcheck
	return true
}

func WaitReady(s *Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	tck := time.NewTicker(500 * time.Millisecond)
	defer tck.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tck.C:
			if IsReady(s) {
				return nil
			}
		}
	}
}
