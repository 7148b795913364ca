// Package envoy runs Envoy in a container. The proxy routes every request to an echo server on the
// test host and calls the ext_proc service, also on the test host, for request and response headers.
package envoy

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"text/template"

	_ "embed"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ImageEnv names the environment variable holding the Envoy image used by integration tests.
const ImageEnv = "RESHOOK_ENVOY_IMAGE"

const (
	listenerPort       = 10000
	listenerPortProto  = "10000/tcp"
	defaultEchoPort    = 8080
	defaultExtProcPort = 8081
	configPath         = "/etc/envoy/envoy.yml"
)

//go:embed envoy.yml
var configTemplate string

// Image returns the Envoy image configured for integration tests, empty when unset.
func Image() string {
	return os.Getenv(ImageEnv)
}

type Container struct {
	testcontainers.Container
	// URL is the Envoy listener as reachable from the test host. It is set once Run succeeds.
	URL *url.URL

	ports        ports
	overrides    testcontainers.GenericContainerRequest
	waitStrategy wait.Strategy
}

type ports struct {
	ListenerPort int
	EchoPort     int
	ExtProcPort  int
}

type Option func(*Container)

func New(opts ...Option) *Container {
	c := &Container{
		ports: ports{
			ListenerPort: listenerPort,
			EchoPort:     defaultEchoPort,
			ExtProcPort:  defaultExtProcPort,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.waitStrategy == nil {
		c.waitStrategy = wait.ForExposedPort()
	}
	return c
}

// WithHostPorts sets the host ports of the echo server and of the ext_proc service.
func WithHostPorts(echo, extproc int) Option {
	return func(c *Container) {
		c.ports.EchoPort = echo
		c.ports.ExtProcPort = extproc
	}
}

func WithFiles(files ...testcontainers.ContainerFile) Option {
	return func(c *Container) {
		c.overrides.Files = append(c.overrides.Files, files...)
	}
}

func WithWaitStrategy(strategy wait.Strategy) Option {
	return func(c *Container) {
		c.waitStrategy = strategy
	}
}

func (c *Container) config() ([]byte, error) {
	tmpl, err := template.New("envoy.yml").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("could not parse envoy config: %w", err)
	}
	b := bytes.NewBuffer([]byte{})
	if err := tmpl.Execute(b, c.ports); err != nil {
		return nil, fmt.Errorf("could not render envoy config: %w", err)
	}
	return b.Bytes(), nil
}

// Run starts Envoy from img and waits until its listener accepts connections.
func (c *Container) Run(ctx context.Context, img string, opts ...testcontainers.ContainerCustomizer) (*url.URL, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:           img,
			Entrypoint:      []string{"/usr/local/bin/envoy", "--log-level", "warn", "-c", configPath},
			ExposedPorts:    []string{listenerPortProto},
			HostAccessPorts: []int{c.ports.EchoPort, c.ports.ExtProcPort},
			Files: append([]testcontainers.ContainerFile{{
				ContainerFilePath: configPath,
				Reader:            bytes.NewReader(cfg),
				FileMode:          0o644,
			}}, c.overrides.Files...),
			WaitingFor: c.waitStrategy,
		},
		Started: true,
	}
	for _, opt := range opts {
		if err := opt.Customize(&req); err != nil {
			return nil, fmt.Errorf("customize: %w", err)
		}
	}

	ctr, err := testcontainers.GenericContainer(ctx, req)
	c.Container = ctr
	if err != nil {
		return nil, fmt.Errorf("could not run container: %w", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get host: %w", err)
	}
	mappedPort, err := ctr.MappedPort(ctx, listenerPortProto)
	if err != nil {
		return nil, fmt.Errorf("could not get mapped port: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("http://%s:%s", host, mappedPort.Port()))
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %w", err)
	}
	c.URL = u
	return u, nil
}
