// Package httpapi exposes resolution and corpus status over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dshills/medcode-resolver/internal/searcher"
	"github.com/dshills/medcode-resolver/internal/storage"
	"github.com/dshills/medcode-resolver/pkg/types"
)

// Version is reported by /health
const Version = "0.1.0"

// Resolver is satisfied by *searcher.Searcher
type Resolver interface {
	Resolve(ctx context.Context, req searcher.ResolveRequest) (*searcher.ResolveResponse, error)
}

// Server wires the HTTP routes
type Server struct {
	echo     *echo.Echo
	resolver Resolver
	storage  storage.Storage
	model    string // Embedding model reported in corpus status
	logger   zerolog.Logger
}

// NewServer creates the echo instance and registers every route
func NewServer(resolver Resolver, store storage.Storage, model string, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		resolver: resolver,
		storage:  store,
		model:    model,
		logger:   logger,
	}

	// Global middleware
	e.Use(Recovery(logger))
	e.Use(RequestID())
	e.Use(Logger(logger))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.POST("/resolve", s.resolve)
	api.GET("/codes", s.listCodes)
	api.GET("/codes/:system/:country/:code", s.getCode)
	api.GET("/corpus/status", s.corpusStatus)

	return s
}

// Handler returns the router, for tests and custom listeners
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) resolve(c echo.Context) error {
	var req searcher.ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := s.resolver.Resolve(c.Request().Context(), req)
	switch {
	case errors.Is(err, searcher.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "resolve timed out")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if resp.Status == types.StatusRetrievalUnavailable {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getCode(c echo.Context) error {
	entry, err := s.storage.GetCodeEntry(c.Request().Context(), storage.CodeKey{
		CodeSystem:  c.Param("system"),
		CountryCode: strings.ToUpper(c.Param("country")),
		CodeValue:   c.Param("code"),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "code not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, codeView(entry))
}

// listCodes pages the corpus in (code_value, id) order. The response carries
// the cursor for the next page when one may exist.
func (s *Server) listCodes(c echo.Context) error {
	filter := storage.Filter{
		CodeSystem:      c.QueryParam("system"),
		CountryCode:     strings.ToUpper(c.QueryParam("country")),
		EntityType:      types.EntityType(strings.ToLower(c.QueryParam("entity_type"))),
		IncludeInactive: c.QueryParam("include_inactive") == "true",
	}
	if filter.EntityType != "" && !filter.EntityType.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, types.ErrInvalidEntityType.Error())
	}

	limit := defaultListLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > storage.DefaultPageSize {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 1000")
		}
		limit = n
	}

	cursor := storage.Cursor{CodeValue: c.QueryParam("after_code")}
	if v := c.QueryParam("after_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after_id")
		}
		cursor.ID = id
	}

	entries, err := s.storage.ListCodeEntries(c.Request().Context(), filter, cursor, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	page := CodePage{Codes: make([]CodeView, 0, len(entries))}
	for _, e := range entries {
		page.Codes = append(page.Codes, codeView(e))
	}
	if len(entries) == limit {
		next := storage.After(entries[len(entries)-1])
		page.Next = &next
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) corpusStatus(c echo.Context) error {
	status, err := s.storage.GetStatus(c.Request().Context(), s.model)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, status)
}

const defaultListLimit = 100

// CodePage is one page of corpus rows
type CodePage struct {
	Codes []CodeView      `json:"codes"`
	Next  *storage.Cursor `json:"next,omitempty"`
}

// CodeView is the wire form of a corpus row. Vectors are summarized, not sent.
type CodeView struct {
	CodeSystem     string           `json:"code_system"`
	CodeValue      string           `json:"code_value"`
	CountryCode    string           `json:"country_code"`
	DisplayName    string           `json:"display_name"`
	SearchText     string           `json:"search_text,omitempty"`
	EntityType     types.EntityType `json:"entity_type,omitempty"`
	Active         bool             `json:"active"`
	NormalizedText *string          `json:"normalized_text"`
	EmbeddingModel string           `json:"embedding_model,omitempty"`
	EmbeddingDim   int              `json:"embedding_dimension"`
}

func codeView(e *types.CodeEntry) CodeView {
	return CodeView{
		CodeSystem:     e.CodeSystem,
		CodeValue:      e.CodeValue,
		CountryCode:    e.CountryCode,
		DisplayName:    e.DisplayName,
		SearchText:     e.SearchText,
		EntityType:     e.EntityType,
		Active:         e.Active,
		NormalizedText: e.NormalizedText,
		EmbeddingModel: e.EmbeddingModel,
		EmbeddingDim:   len(e.Embedding),
	}
}
