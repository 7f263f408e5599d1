package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	oauth "github.com/giantswarm/mcp-oauth"
	"github.com/giantswarm/mcp-oauth/providers/dex"
	oauthserver "github.com/giantswarm/mcp-oauth/server"
	"github.com/giantswarm/mcp-oauth/storage/memory"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OAuthProviderDex is the Dex OIDC provider.
	OAuthProviderDex = "dex"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second

	// DefaultShutdownTimeout bounds a graceful server shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	maxClientsPerIP = 10
)

// OAuthConfig holds configuration for the OAuth-enabled HTTP server.
type OAuthConfig struct {
	// BaseURL is the public base URL, e.g. https://ruben.example.com.
	BaseURL string

	// Provider names the identity provider. Only "dex" is supported.
	Provider string

	DexIssuerURL    string
	DexClientID     string
	DexClientSecret string
}

// OAuthHTTPServer serves MCP over streamable HTTP behind OAuth 2.1 bearer
// tokens. Health checks and metrics stay unauthenticated.
type OAuthHTTPServer struct {
	*HTTPServer
	oauthServer *oauth.Server
}

// NewOAuthHTTPServer creates an OAuth-protected HTTP server for mcpSrv.
func NewOAuthHTTPServer(mcpSrv *mcpserver.MCPServer, mcpEndpoint string, gatherer prometheus.Gatherer, cfg OAuthConfig) (*OAuthHTTPServer, error) {
	if cfg.Provider != "" && cfg.Provider != OAuthProviderDex {
		return nil, fmt.Errorf("unsupported OAuth provider %q (supported: %s)", cfg.Provider, OAuthProviderDex)
	}
	if err := checkBaseURL(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("OAuth base URL validation failed: %w", err)
	}

	provider, err := dex.NewProvider(&dex.Config{
		IssuerURL:    cfg.DexIssuerURL,
		ClientID:     cfg.DexClientID,
		ClientSecret: cfg.DexClientSecret,
		RedirectURL:  cfg.BaseURL + "/oauth/callback",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Dex provider: %w", err)
	}

	// Single replica: tokens, clients and flows all live in memory.
	store := memory.New()
	oauthSrv, err := oauth.NewServer(provider, store, store, store, &oauthserver.Config{
		Issuer:                    cfg.BaseURL,
		AllowRefreshTokenRotation: true,
		MaxClientsPerIP:           maxClientsPerIP,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth server: %w", err)
	}

	h := oauth.NewHandler(oauthSrv, slog.Default())
	mux := http.NewServeMux()
	h.RegisterAuthorizationServerMetadataRoutes(mux)
	h.RegisterProtectedResourceMetadataRoutes(mux, mcpEndpoint)
	for path, fn := range map[string]http.HandlerFunc{
		"/oauth/authorize":  h.ServeAuthorization,
		"/oauth/token":      h.ServeToken,
		"/oauth/callback":   h.ServeCallback,
		"/oauth/register":   h.ServeClientRegistration,
		"/oauth/revoke":     h.ServeTokenRevocation,
		"/oauth/introspect": h.ServeTokenIntrospection,
	} {
		mux.HandleFunc(path, fn)
	}

	mcpHandler := mcpserver.NewStreamableHTTPServer(mcpSrv, mcpserver.WithEndpointPath(mcpEndpoint))
	mux.Handle("/", NewRouter(mcpEndpoint, h.ValidateToken(mcpHandler), gatherer))

	return &OAuthHTTPServer{
		HTTPServer:  &HTTPServer{handler: mux},
		oauthServer: oauthSrv,
	}, nil
}

// Shutdown stops the OAuth background workers, then the HTTP server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if err := s.oauthServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down OAuth server", "error", err)
	}
	return s.HTTPServer.Shutdown(ctx)
}

// checkBaseURL enforces HTTPS, allowing plain HTTP on loopback hosts only.
func checkBaseURL(baseURL string) error {
	if baseURL == "" {
		return errors.New("base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("OAuth 2.1 requires HTTPS outside of localhost (got: %s)", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme %q: use https, or http for localhost", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
