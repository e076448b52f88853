package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/usecase"
)

// --- mocks ---

type mockRefresher struct {
	view       *usecase.View
	refreshErr error
	refreshed  bool
	inserted   []domain.Message
}

func (m *mockRefresher) RefreshNow(ctx context.Context) (*usecase.View, error) {
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	m.refreshed = true
	return m.view, nil
}

func (m *mockRefresher) View() *usecase.View { return m.view }

func (m *mockRefresher) InsertMessage(msg domain.Message) {
	m.inserted = append(m.inserted, msg)
}

type mockSigner struct{}

func (m *mockSigner) PublicKey() string                   { return "localpub" }
func (m *mockSigner) Sign(ev *nostr.Event) error          { ev.ID = ev.GetID(); return nil }
func (m *mockSigner) Encrypt(peer, pt string) (string, error) { return "enc:" + pt, nil }
func (m *mockSigner) Decrypt(peer, ct string) (string, error) { return ct, nil }
func (m *mockSigner) Wrap(peer string, rumor nostr.Event) (nostr.Event, error) {
	wrap := nostr.Event{Kind: 1059, Tags: nostr.Tags{{"p", peer}}}
	wrap.ID = wrap.GetID()
	return wrap, nil
}

type mockFetcher struct {
	published  []nostr.Event
	publishErr bool
}

func (m *mockFetcher) Fetch(ctx context.Context, filters []nostr.Filter, relays []string) ([]nostr.Event, error) {
	return nil, nil
}
func (m *mockFetcher) Publish(ctx context.Context, ev nostr.Event, relays []string) error {
	if m.publishErr {
		return errors.New("no relay accepted")
	}
	m.published = append(m.published, ev)
	return nil
}

type mockMessageCache struct{}

func (m *mockMessageCache) Get(ctx context.Context, id string) (*domain.Message, error) {
	return nil, nil
}
func (m *mockMessageCache) Save(ctx context.Context, msgs []domain.Message) error { return nil }

type mockMessageStore struct {
	marked string
}

func (m *mockMessageStore) MarkRead(ctx context.Context, counterparty string) error {
	m.marked = counterparty
	return nil
}

type mockSettings struct{}

func (m *mockSettings) GetStrings(ctx context.Context, key string) ([]string, error) {
	return []string{"wss://relay.example.com"}, nil
}
func (m *mockSettings) SetStrings(ctx context.Context, key string, values []string) error {
	return nil
}
func (m *mockSettings) GetInt(ctx context.Context, key string) (int, error)     { return 1, nil }
func (m *mockSettings) SetInt(ctx context.Context, key string, value int) error { return nil }

type mockMintClient struct {
	quoteErr bool
}

func (m *mockMintClient) CheckSpent(ctx context.Context, mintURL string, proofs []milkmarket.Proof) ([]bool, error) {
	return make([]bool, len(proofs)), nil
}

func (m *mockMintClient) Info(ctx context.Context, mintURL string) (domain.MintInfo, error) {
	return domain.MintInfo{Name: mintURL}, nil
}

func (m *mockMintClient) MeltQuote(ctx context.Context, mintURL string, invoice string) (domain.MeltQuote, error) {
	if m.quoteErr {
		return domain.MeltQuote{}, errors.New("mint unreachable")
	}
	return domain.MeltQuote{Quote: "q1", Amount: 100, FeeReserve: 2}, nil
}

type fixture struct {
	refresher *mockRefresher
	fetcher   *mockFetcher
	store     *mockMessageStore
	mints     *mockMintClient
	echo      *echo.Echo
}

func newFixture(view *usecase.View, refreshErr error) *fixture {
	f := &fixture{
		refresher: &mockRefresher{view: view, refreshErr: refreshErr},
		fetcher:   &mockFetcher{},
		store:     &mockMessageStore{},
		mints:     &mockMintClient{},
		echo:      echo.New(),
	}
	pipeline := usecase.NewMessagePipeline(&mockSigner{}, &mockMessageCache{})
	h := NewHandler(f.refresher, nil, pipeline, f.fetcher, &mockSettings{}, f.store, f.mints, nil)
	h.RegisterRoutes(f.echo)
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res := httptest.NewRecorder()
	f.echo.ServeHTTP(res, req)
	return res
}

// --- tests ---

func TestStatusBeforeFirstCycle(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodGet, "/api/v1/status", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["state"] != "warming" {
		t.Errorf("expected warming state, got %v", body["state"])
	}
}

func TestListingsServedFromView(t *testing.T) {
	view := &usecase.View{
		Listings:    []domain.Listing{{ID: "ev1", Merchant: "merchant1", Title: "raw milk"}},
		RefreshedAt: time.Now(),
	}
	f := newFixture(view, nil)

	res := f.do(http.MethodGet, "/api/v1/listings", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	var listings []domain.Listing
	if err := json.Unmarshal(res.Body.Bytes(), &listings); err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 || listings[0].Title != "raw milk" {
		t.Errorf("unexpected listings payload: %+v", listings)
	}
}

func TestThreadNotFound(t *testing.T) {
	f := newFixture(&usecase.View{Threads: map[string]*domain.Thread{}}, nil)

	res := f.do(http.MethodGet, "/api/v1/threads/nobody", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", res.Code)
	}
}

func TestRefreshConflict(t *testing.T) {
	f := newFixture(nil, domain.ErrRefreshInFlight)

	res := f.do(http.MethodPost, "/api/v1/refresh", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", res.Code)
	}
}

func TestSendRejectsUnknownSubject(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodPost, "/api/v1/threads/peer1", sendRequest{
		Subject: "spam",
		Content: "hello",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
	if len(f.fetcher.published) != 0 {
		t.Error("rejected message must not be published")
	}
}

func TestSendPublishesGiftWrap(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodPost, "/api/v1/threads/peer1", sendRequest{
		Subject: "listing-inquiry",
		Content: "is this available?",
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", res.Code)
	}
	if len(f.fetcher.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(f.fetcher.published))
	}
	if f.fetcher.published[0].Kind != 1059 {
		t.Errorf("expected gift wrap, got kind %d", f.fetcher.published[0].Kind)
	}

	var msg domain.Message
	if err := json.Unmarshal(res.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.Outgoing || !msg.Read {
		t.Error("optimistic message must be outgoing and read")
	}

	// The sent message must reach the live view without a refresh.
	if len(f.refresher.inserted) != 1 {
		t.Fatalf("expected 1 view insertion, got %d", len(f.refresher.inserted))
	}
	if f.refresher.inserted[0].Counterparty != "peer1" || !f.refresher.inserted[0].Outgoing {
		t.Errorf("unexpected inserted message: %+v", f.refresher.inserted[0])
	}
}

func TestSendFailureSkipsViewInsertion(t *testing.T) {
	f := newFixture(nil, nil)
	f.fetcher.publishErr = true

	res := f.do(http.MethodPost, "/api/v1/threads/peer1", sendRequest{
		Subject: "listing-inquiry",
		Content: "hello",
	})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", res.Code)
	}
	if len(f.refresher.inserted) != 0 {
		t.Error("failed send must not reach the view")
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodPost, "/api/v1/threads/peer1/read", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", res.Code)
	}
	if f.store.marked != "peer1" {
		t.Errorf("expected mark-read for peer1, got %q", f.store.marked)
	}
}

func TestMeltQuote(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodPost, "/api/v1/wallet/melt-quote", echo.Map{
		"mint":    "https://mint.example.com",
		"invoice": "lnbc100n1...",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", res.Code, res.Body.String())
	}
	var quote domain.MeltQuote
	if err := json.Unmarshal(res.Body.Bytes(), &quote); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if quote.Quote != "q1" || quote.Amount != 100 {
		t.Errorf("unexpected quote: %+v", quote)
	}
}

func TestMeltQuoteRequiresMintAndInvoice(t *testing.T) {
	f := newFixture(nil, nil)

	res := f.do(http.MethodPost, "/api/v1/wallet/melt-quote", echo.Map{
		"invoice": "lnbc100n1...",
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", res.Code)
	}
}
