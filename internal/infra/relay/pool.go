package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd"
)

var tracer = otel.Tracer("relay")

const (
	defaultFetchTimeout   = 10 * time.Second
	defaultPublishTimeout = 7 * time.Second
)

// Coordinator fans filter sets out over relay sets through a shared
// connection pool. A relay that errors or times out contributes nothing;
// partial results are the expected mode of this network.
type Coordinator struct {
	pool *nostr.SimplePool

	mu     sync.RWMutex
	relays map[string]*nostr.Relay

	fetchTimeout   time.Duration
	publishTimeout time.Duration
}

func NewCoordinator(ctx context.Context) *Coordinator {
	return &Coordinator{
		pool:           nostr.NewSimplePool(ctx, nostr.WithPenaltyBox()),
		relays:         make(map[string]*nostr.Relay),
		fetchTimeout:   defaultFetchTimeout,
		publishTimeout: defaultPublishTimeout,
	}
}

// Fetch issues every filter against every relay concurrently and returns
// the deduplicated union. It fails only when no relays are given; per-relay
// failures are absorbed by the pool.
func (c *Coordinator) Fetch(ctx context.Context, filters []nostr.Filter, relays []string) ([]nostr.Event, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Fetch")
	defer span.End()

	urls := normalize(relays)
	if len(urls) == 0 {
		return nil, errors.New("no relays configured")
	}

	var out []nostr.Event
	seen := map[string]struct{}{}

	for _, filter := range filters {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		for ie := range c.pool.FetchMany(fetchCtx, urls, filter) {
			if ie.Event == nil {
				continue
			}
			// The same record commonly arrives from several relays.
			if _, dup := seen[ie.Event.ID]; dup {
				continue
			}
			seen[ie.Event.ID] = struct{}{}
			out = append(out, *ie.Event)
		}
		cancel()
	}

	return out, nil
}

// Publish sends the event to every relay, best-effort. It succeeds when at
// least one relay accepted the event.
func (c *Coordinator) Publish(ctx context.Context, ev nostr.Event, relays []string) error {
	ctx, span := tracer.Start(ctx, "Coordinator.Publish")
	defer span.End()

	urls := normalize(relays)
	if len(urls) == 0 {
		return errors.New("no relays configured")
	}

	var wg sync.WaitGroup
	results := make(chan error, len(urls))
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			pubCtx, cancel := context.WithTimeout(ctx, c.publishTimeout)
			defer cancel()

			rl, err := c.ensureRelay(pubCtx, url)
			if err != nil {
				results <- err
				return
			}
			if err := rl.Publish(pubCtx, ev); err != nil {
				slog.DebugContext(ctx, "publish rejected",
					slog.String("relay", url),
					slog.String("error", err.Error()),
					slog.String("module", "relay"),
				)
				results <- err
				return
			}
			results <- nil
		}(url)
	}
	wg.Wait()
	close(results)

	var lastErr error
	for err := range results {
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return errors.Wrap(lastErr, "all relays rejected the event")
}

// Close drops all held connections.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rl := range c.relays {
		rl.Close()
	}
	c.relays = map[string]*nostr.Relay{}
}

// ensureRelay returns a live connection to url, dialing if needed.
func (c *Coordinator) ensureRelay(ctx context.Context, url string) (*nostr.Relay, error) {
	c.mu.RLock()
	rl, ok := c.relays[url]
	c.mu.RUnlock()
	if ok && rl.IsConnected() {
		return rl, nil
	}

	fresh, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", url)
	}
	c.mu.Lock()
	c.relays[url] = fresh
	c.mu.Unlock()
	return fresh, nil
}

func normalize(relays []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, r := range relays {
		url := milkmarket.NormalizeRelayURL(strings.TrimSpace(r))
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}
