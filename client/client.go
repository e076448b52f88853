// Package client is a thin Go client for the milkd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/milkmarket/milkd/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	cacheTTL       = 10 * time.Second
)

type Client struct {
	client  *http.Client
	cache   *cache.Cache
	baseURL string
}

func New(baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: defaultTimeout},
		cache:   cache.New(cacheTTL, time.Minute),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *Client) get(ctx context.Context, path string, response any) error {
	if cached, ok := c.cache.Get(path); ok {
		return json.Unmarshal(cached.([]byte), response)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if err := json.NewDecoder(io.TeeReader(resp.Body, &buf)).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	c.cache.Set(path, buf.Bytes(), cache.DefaultExpiration)

	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, response any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

func (c *Client) Listings(ctx context.Context) ([]domain.Listing, error) {
	var listings []domain.Listing
	err := c.get(ctx, "/api/v1/listings", &listings)
	return listings, err
}

func (c *Client) Profile(ctx context.Context, pubkey string) (*domain.Profile, error) {
	var profile domain.Profile
	err := c.get(ctx, "/api/v1/profiles/"+url.PathEscape(pubkey), &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *Client) Shop(ctx context.Context, pubkey string) (*domain.ShopProfile, error) {
	var shop domain.ShopProfile
	err := c.get(ctx, "/api/v1/shops/"+url.PathEscape(pubkey), &shop)
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func (c *Client) Threads(ctx context.Context) (map[string]*domain.Thread, error) {
	var threads map[string]*domain.Thread
	err := c.get(ctx, "/api/v1/threads", &threads)
	return threads, err
}

func (c *Client) Thread(ctx context.Context, counterparty string) (*domain.Thread, error) {
	var thread domain.Thread
	err := c.get(ctx, "/api/v1/threads/"+url.PathEscape(counterparty), &thread)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

type SendRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (c *Client) Send(ctx context.Context, counterparty string, req SendRequest) (*domain.Message, error) {
	var msg domain.Message
	err := c.post(ctx, "/api/v1/threads/"+url.PathEscape(counterparty), req, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, counterparty string) error {
	return c.post(ctx, "/api/v1/threads/"+url.PathEscape(counterparty)+"/read", nil, nil)
}

func (c *Client) Wallet(ctx context.Context) (*domain.WalletState, error) {
	var wallet domain.WalletState
	err := c.get(ctx, "/api/v1/wallet", &wallet)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (c *Client) Graph(ctx context.Context) (*domain.FollowGraph, error) {
	var graph domain.FollowGraph
	err := c.get(ctx, "/api/v1/graph", &graph)
	if err != nil {
		return nil, err
	}
	return &graph, nil
}

func (c *Client) Drops(ctx context.Context) ([]domain.Drop, error) {
	var drops []domain.Drop
	err := c.get(ctx, "/api/v1/drops", &drops)
	return drops, err
}

func (c *Client) Refresh(ctx context.Context) error {
	return c.post(ctx, "/api/v1/refresh", nil, nil)
}
