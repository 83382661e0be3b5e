package helpers

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/onsi/gomega"

	extractorapp "github.com/stacklok/trello-extractor/internal/app"
	"github.com/stacklok/trello-extractor/internal/config"
)

// ServerTestHelper manages the extractor server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	config     *config.Config
	baseURL    string
	httpClient *http.Client
	app        *extractorapp.ExtractorApp
	address    string
}

// NewServerTestHelper creates a new server test helper on a free local port
func NewServerTestHelper(ctx context.Context, cfg *config.Config) *ServerTestHelper {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	address := listener.Addr().String()
	gomega.Expect(listener.Close()).To(gomega.Succeed())

	return &ServerTestHelper{
		ctx:     ctx,
		config:  cfg,
		baseURL: "http://" + address,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		address: address,
	}
}

// StartServer starts the extractor server programmatically
func (s *ServerTestHelper) StartServer() error {
	app, err := extractorapp.NewExtractorApp(s.ctx,
		extractorapp.WithConfig(s.config),
		extractorapp.WithAddress(s.address),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			// The test fails when it tries to connect
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the extractor server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits for the server to be ready to accept requests
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.GetHealth()
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// PostEvent sends a platform event to /v1/events
func (s *ServerTestHelper) PostEvent(body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.baseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.httpClient.Do(req)
}

// GetHealth makes a GET request to /health
func (s *ServerTestHelper) GetHealth() (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	return s.httpClient.Do(req)
}

// GetMetrics makes a GET request to /metrics
func (s *ServerTestHelper) GetMetrics() (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.baseURL+"/metrics", nil)
	if err != nil {
		return nil, err
	}
	return s.httpClient.Do(req)
}
