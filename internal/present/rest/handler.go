package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/present/rest/presenter"
	"github.com/milkmarket/milkd/internal/service"
	"github.com/milkmarket/milkd/internal/usecase"
	"github.com/milkmarket/milkd/internal/utils"
)

// messageStore is the slice of the message cache the API needs beyond the
// pipeline: flipping local read flags.
type messageStore interface {
	MarkRead(ctx context.Context, counterparty string) error
}

// refresher triggers cycles and exposes the last completed view.
type refresher interface {
	RefreshNow(ctx context.Context) (*usecase.View, error)
	View() *usecase.View
	InsertMessage(msg domain.Message)
}

type Handler struct {
	refresh  refresher
	signal   *service.SignalService
	pipeline *usecase.MessagePipeline
	fetcher  usecase.Fetcher
	settings usecase.Settings
	messages messageStore
	mints    usecase.MintClient

	defaultRelays []string
}

func NewHandler(
	refresh refresher,
	signal *service.SignalService,
	pipeline *usecase.MessagePipeline,
	fetcher usecase.Fetcher,
	settings usecase.Settings,
	messages messageStore,
	mints usecase.MintClient,
	defaultRelays []string,
) *Handler {
	return &Handler{
		refresh:       refresh,
		signal:        signal,
		pipeline:      pipeline,
		fetcher:       fetcher,
		settings:      settings,
		messages:      messages,
		mints:         mints,
		defaultRelays: defaultRelays,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/status", h.handleStatus)
	e.POST("/api/v1/refresh", h.handleRefresh)
	e.GET("/api/v1/listings", h.handleListings)
	e.GET("/api/v1/profiles/:pubkey", h.handleProfile)
	e.GET("/api/v1/shops/:pubkey", h.handleShop)
	e.GET("/api/v1/threads", h.handleThreads)
	e.GET("/api/v1/threads/:counterparty", h.handleThread)
	e.POST("/api/v1/threads/:counterparty", h.handleSend)
	e.POST("/api/v1/threads/:counterparty/read", h.handleMarkRead)
	e.GET("/api/v1/wallet", h.handleWallet)
	e.POST("/api/v1/wallet/melt-quote", h.handleMeltQuote)
	e.GET("/api/v1/graph", h.handleGraph)
	e.GET("/api/v1/reviews/:merchant", h.handleReviews)
	e.GET("/api/v1/drops", h.handleDrops)
	e.GET("/realtime", h.handleRealtime)
}

// view returns the last completed cycle or nil before warmup.
func (h *Handler) view() *usecase.View {
	return h.refresh.View()
}

func (h *Handler) handleStatus(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.OK(c, echo.Map{"state": "warming"})
	}
	return presenter.OK(c, echo.Map{
		"state":       "ready",
		"refreshedAt": view.RefreshedAt,
		"listings":    len(view.Listings),
		"threads":     len(view.Threads),
		"drops":       len(view.Drops),
	})
}

func (h *Handler) handleRefresh(c echo.Context) error {
	ctx := c.Request().Context()

	view, err := h.refresh.RefreshNow(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshInFlight) {
			return presenter.Conflict(c, "refresh already in flight")
		}
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"refreshedAt": view.RefreshedAt})
}

func (h *Handler) handleListings(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.OK(c, []any{})
	}
	return presenter.OK(c, view.Listings)
}

func (h *Handler) handleProfile(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.NotFound(c, "profile not found")
	}
	profile, ok := view.Profiles[c.Param("pubkey")]
	if !ok {
		return presenter.NotFound(c, "profile not found")
	}
	return presenter.OK(c, profile)
}

func (h *Handler) handleShop(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.NotFound(c, "shop not found")
	}
	shop, ok := view.Shops[c.Param("pubkey")]
	if !ok {
		return presenter.NotFound(c, "shop not found")
	}
	return presenter.OK(c, shop)
}

func (h *Handler) handleThreads(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.OK(c, echo.Map{})
	}

	// Most recently active conversation first.
	ordered := utils.OrderedKVMap[*domain.Thread]{}
	for counterparty, thread := range view.Threads {
		ordered.Put(counterparty, thread, -thread.LastActivity())
	}
	return presenter.OK(c, ordered)
}

func (h *Handler) handleThread(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.NotFound(c, "thread not found")
	}
	thread, ok := view.Threads[c.Param("counterparty")]
	if !ok {
		return presenter.NotFound(c, "thread not found")
	}
	return presenter.OK(c, thread)
}

type sendRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (h *Handler) handleSend(c echo.Context) error {
	ctx := c.Request().Context()
	peer := c.Param("counterparty")

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if _, ok := domain.AllowedSubjects[req.Subject]; !ok {
		return presenter.BadRequestMessage(c, "unsupported subject")
	}
	if req.Content == "" {
		return presenter.BadRequestMessage(c, "content is required")
	}

	relays, err := h.settings.GetStrings(ctx, usecase.SettingWriteRelays)
	if err != nil || len(relays) == 0 {
		relays = h.defaultRelays
	}

	msg, err := h.pipeline.Send(ctx, h.fetcher, relays, peer, req.Subject, req.Content)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	// Surface the sent message immediately instead of waiting for the next
	// cycle to re-fetch it.
	h.refresh.InsertMessage(msg)
	return presenter.Accepted(c, msg)
}

func (h *Handler) handleMarkRead(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.messages.MarkRead(ctx, c.Param("counterparty"))
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, echo.Map{"status": "ok"})
}

func (h *Handler) handleWallet(c echo.Context) error {
	view := h.view()
	if view == nil || view.Wallet == nil {
		return presenter.NotFound(c, "wallet not reconciled yet")
	}
	return presenter.OK(c, view.Wallet)
}

type meltQuoteRequest struct {
	Mint    string `json:"mint"`
	Invoice string `json:"invoice"`
}

func (h *Handler) handleMeltQuote(c echo.Context) error {
	ctx := c.Request().Context()

	var req meltQuoteRequest
	if err := c.Bind(&req); err != nil {
		return presenter.BadRequest(c, err)
	}
	if req.Mint == "" || req.Invoice == "" {
		return presenter.BadRequestMessage(c, "mint and invoice are required")
	}

	quote, err := h.mints.MeltQuote(ctx, req.Mint, req.Invoice)
	if err != nil {
		return presenter.InternalError(c, err)
	}
	return presenter.OK(c, quote)
}

func (h *Handler) handleGraph(c echo.Context) error {
	view := h.view()
	if view == nil || view.Graph == nil {
		return presenter.NotFound(c, "graph not built yet")
	}
	return presenter.OK(c, view.Graph)
}

func (h *Handler) handleReviews(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.NotFound(c, "reviews not loaded yet")
	}
	merchant := c.Param("merchant")
	return presenter.OK(c, echo.Map{
		"scores":   view.Reviews.MerchantScores[merchant],
		"products": view.Reviews.ProductReviews[merchant],
	})
}

func (h *Handler) handleDrops(c echo.Context) error {
	view := h.view()
	if view == nil {
		return presenter.OK(c, []any{})
	}
	return presenter.OK(c, view.Drops)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (h *Handler) handleRealtime(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", "socket"),
		)
		return err
	}
	defer func() {
		ws.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	output := make(chan service.Signal)
	go h.signal.Realtime(ctx, output)

	quit := make(chan struct{})

	go func() {
		for {
			// Clients only send heartbeats; reads exist to notice the close.
			if _, _, err := ws.ReadMessage(); err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", "socket"),
						)
					}
				} else {
					slog.DebugContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", "socket"),
					)
				}

				close(quit)
				break
			}
		}
	}()

	for {
		select {
		case <-quit:
			return nil
		case signal := <-output:
			err := ws.WriteJSON(signal)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", "socket"),
				)
				return nil
			}
		}
	}
}
