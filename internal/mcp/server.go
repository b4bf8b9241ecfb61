// Package mcp implements the read-only MCP (Model Context Protocol) server
// for animectl.
//
// The server unlocks the vault once at startup and answers list, search and
// stats queries over stdio. It never opens the adult gate, so adult entries
// are unreachable through it, and it never saves.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/forest6511/animectl/internal/config"
	"github.com/forest6511/animectl/pkg/audit"
	"github.com/forest6511/animectl/pkg/vault"
	"github.com/forest6511/animectl/pkg/watchlist"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// ErrNoPassword is returned when neither ServerOptions.Password nor
// ANIMECTL_PASSWORD is set.
var ErrNoPassword = errors.New("no password provided: set ANIMECTL_PASSWORD environment variable")

// Server represents the MCP server for animectl.
type Server struct {
	server            *mcp.Server
	vault             *vault.Vault
	session           *vault.Session
	log               zerolog.Logger
	maxResults        int
	minutesPerEpisode int

	closeOnce sync.Once
	closeErr  error
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// VaultPath is the path to the vault directory.
	// If empty, config.ResolveDir decides.
	VaultPath string

	// Password is the master password for the vault.
	// If empty, the server reads ANIMECTL_PASSWORD and unsets it.
	Password string

	// VaultOptions are passed to vault.New.
	VaultOptions []vault.Option

	// MaxResults caps list and search results (default config.DefaultMCPMaxResults).
	MaxResults int

	// MinutesPerEpisode derives hours (default watchlist.DefaultMinutesPerEpisode).
	MinutesPerEpisode int

	// Logger receives diagnostics. stdout carries the protocol, so it must
	// not write there.
	Logger *zerolog.Logger
}

// NewServer creates a new MCP server instance with an unlocked session.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	vaultPath := opts.VaultPath
	if vaultPath == "" {
		dir, err := config.ResolveDir()
		if err != nil {
			return nil, err
		}
		vaultPath = dir
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	// Get password from options or environment
	password := opts.Password
	if password == "" {
		password = os.Getenv(config.EnvPassword)
		// Clear the environment variable after reading for security
		os.Unsetenv(config.EnvPassword)
	}
	if password == "" {
		return nil, ErrNoPassword
	}

	vopts := append([]vault.Option{
		vault.WithLogger(log),
		vault.WithAuditSource(audit.SourceMCP),
	}, opts.VaultOptions...)
	v, err := vault.New(vaultPath, vopts...)
	if err != nil {
		return nil, err
	}

	session, err := v.Unlock(password)
	if err != nil {
		_ = v.Close()
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    "animectl",
				Version: Version,
			},
			nil,
		),
		vault:             v,
		session:           session,
		log:               log,
		maxResults:        opts.MaxResults,
		minutesPerEpisode: opts.MinutesPerEpisode,
	}
	if s.maxResults <= 0 {
		s.maxResults = config.DefaultMCPMaxResults
	}
	if s.minutesPerEpisode <= 0 {
		s.minutesPerEpisode = watchlist.DefaultMinutesPerEpisode
	}

	s.registerTools()
	log.Info().Str("vault", vaultPath).Msg("mcp server ready")
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	// watchlist_list - List entries, optionally filtered by status
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "watchlist_list",
		Description: "List watchlist entries with status, progress, rating and genres. Optional status filter (watching, completed, on-hold, dropped, planning) and limit. Notes are not returned.",
	}, s.handleWatchlistList)

	// watchlist_search - Case-insensitive search over titles and genres
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "watchlist_search",
		Description: "Search watchlist entries by a case-insensitive substring of the title or any genre.",
	}, s.handleWatchlistSearch)

	// watchlist_stats - Aggregate statistics
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "watchlist_stats",
		Description: "Return watchlist statistics: totals, hours watched, completion rate, average rating, counts by status and the top genres.",
	}, s.handleWatchlistStats)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the session and releases the vault. Safe to call twice.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.session.Lock()
		s.closeErr = s.vault.Close()
	})
	return s.closeErr
}
