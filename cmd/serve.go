package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kev-ang/ruben/internal/engines"
	mcptools "github.com/kev-ang/ruben/internal/mcp"
	"github.com/kev-ang/ruben/internal/metrics"
	"github.com/kev-ang/ruben/internal/results"
	"github.com/kev-ang/ruben/internal/server"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

func newServeCmd() *cobra.Command {
	var (
		transport    string
		httpAddr     string
		httpEndpoint string
		inCluster    bool
		configDir    string
		outputDir    string
		storePath    string
		debug        bool

		enableOAuth     bool
		oauthBaseURL    string
		oauthProvider   string
		dexIssuerURL    string
		dexClientID     string
		dexClientSecret string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server to expose benchmark tools via the Model Context Protocol.

Supports multiple transport types:
  - stdio: Standard input/output (default, for IDE integration)
  - streamable-http: HTTP with streaming support (for remote access)

The HTTP transport also serves /healthz and Prometheus metrics of benchmark runs
at /metrics. OAuth 2.1 authentication can be enabled for the MCP endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}

			reg := prometheus.NewRegistry()
			sc := &server.ServerContext{
				Registry:  engines.NewRegistry(),
				Recorder:  metrics.NewRecorder(reg),
				ConfigDir: configDir,
				OutputDir: outputDir,
			}

			p, err := newProvisionerFromFlags(cmd, inCluster)
			if err != nil {
				slog.Warn("Kubernetes provisioner not available, engine servers will not be deployed", "error", err)
			} else {
				sc.Provisioner = p
			}

			if storePath != "" {
				if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
					return fmt.Errorf("failed to create store directory: %w", err)
				}
				store, err := results.OpenStore(storePath)
				if err != nil {
					return err
				}
				defer store.Close()
				sc.Store = store
			}

			mcpSrv := mcpserver.NewMCPServer("ruben", rootCmd.Version,
				mcpserver.WithToolCapabilities(true),
			)
			if err := mcptools.RegisterTools(mcpSrv, sc); err != nil {
				return fmt.Errorf("failed to register MCP tools: %w", err)
			}

			ctx := cmd.Context()
			switch transport {
			case transportStdio:
				return runStdioServer(mcpSrv)
			case transportStreamableHTTP:
				fmt.Fprintf(cmd.OutOrStdout(), "Starting ruben MCP server with %s transport...\n", transport)
				if enableOAuth {
					oauthSrv, err := newOAuthServer(mcpSrv, httpEndpoint, reg, server.OAuthConfig{
						BaseURL:         oauthBaseURL,
						Provider:        oauthProvider,
						DexIssuerURL:    dexIssuerURL,
						DexClientID:     dexClientID,
						DexClientSecret: dexClientSecret,
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  MCP endpoint: %s (requires OAuth Bearer token)\n", httpEndpoint)
					return serveUntilDone(ctx, oauthSrv, httpAddr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  MCP endpoint: %s\n", httpEndpoint)
				return serveUntilDone(ctx, server.NewHTTPServer(mcpSrv, httpEndpoint, reg), httpAddr)
			default:
				return fmt.Errorf("unsupported transport: %s (supported: stdio, streamable-http)", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for streamable-http)")
	cmd.Flags().StringVar(&httpEndpoint, "http-endpoint", "/mcp", "HTTP endpoint path (for streamable-http)")
	cmd.Flags().BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes authentication")
	cmd.Flags().StringVar(&configDir, "config-dir", "configs", "Directory holding benchmark configurations")
	cmd.Flags().StringVar(&outputDir, "output-dir", "results", "Directory for benchmark results")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite run store shared by all runs (optional)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.Flags().BoolVar(&enableOAuth, "enable-oauth", false, "Enable OAuth 2.1 authentication (for HTTP transport)")
	cmd.Flags().StringVar(&oauthBaseURL, "oauth-base-url", "", "OAuth base URL (e.g. https://ruben.example.com)")
	cmd.Flags().StringVar(&oauthProvider, "oauth-provider", server.OAuthProviderDex, "OAuth provider: dex")
	cmd.Flags().StringVar(&dexIssuerURL, "dex-issuer-url", "", "Dex OIDC issuer URL")
	cmd.Flags().StringVar(&dexClientID, "dex-client-id", "", "Dex OAuth client ID")
	cmd.Flags().StringVar(&dexClientSecret, "dex-client-secret", "", "Dex OAuth client secret")

	return cmd
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

type httpServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// serveUntilDone runs srv until it fails or ctx is cancelled.
func serveUntilDone(ctx context.Context, srv httpServer, addr string) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()
	slog.Info("HTTP server listening", "addr", addr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	slog.Info("HTTP server stopped")
	return nil
}

func newOAuthServer(mcpSrv *mcpserver.MCPServer, endpoint string, g prometheus.Gatherer, cfg server.OAuthConfig) (*server.OAuthHTTPServer, error) {
	// Credentials may come from the environment instead of flags.
	if cfg.DexIssuerURL == "" {
		cfg.DexIssuerURL = os.Getenv("DEX_ISSUER_URL")
	}
	if cfg.DexClientID == "" {
		cfg.DexClientID = os.Getenv("DEX_CLIENT_ID")
	}
	if cfg.DexClientSecret == "" {
		cfg.DexClientSecret = os.Getenv("DEX_CLIENT_SECRET")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("--oauth-base-url is required when --enable-oauth is set")
	}
	if cfg.DexIssuerURL == "" {
		return nil, fmt.Errorf("dex issuer URL is required (--dex-issuer-url or DEX_ISSUER_URL)")
	}
	if cfg.DexClientID == "" {
		return nil, fmt.Errorf("dex client ID is required (--dex-client-id or DEX_CLIENT_ID)")
	}
	if cfg.DexClientSecret == "" {
		return nil, fmt.Errorf("dex client secret is required (--dex-client-secret or DEX_CLIENT_SECRET)")
	}

	srv, err := server.NewOAuthHTTPServer(mcpSrv, endpoint, g, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}
	return srv, nil
}
