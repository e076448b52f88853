package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

var cycleTracer = otel.Tracer("cycle")

// View is the merged in-memory state one refresh cycle produces. The UI
// layer consumes it read-only.
type View struct {
	Listings    []domain.Listing              `json:"listings"`
	Profiles    map[string]domain.Profile     `json:"profiles"`
	Shops       map[string]domain.ShopProfile `json:"shops"`
	Threads     map[string]*domain.Thread     `json:"threads"`
	Graph       *domain.FollowGraph           `json:"graph"`
	Wallet      *domain.WalletState           `json:"wallet"`
	Reviews     ReviewSet                     `json:"reviews"`
	Drops       []domain.Drop                 `json:"drops,omitempty"`
	RefreshedAt time.Time                     `json:"refreshedAt"`
}

// Orchestrator runs full refresh cycles: settings load, relay-list
// resolution, cache-first reconciliation per entity type, message unwrap,
// trust graph, ecash reconciliation, review aggregation — strictly in that
// order, one cycle at a time.
type Orchestrator struct {
	fetcher  Fetcher
	signer   Signer
	cache    EventCache
	settings Settings
	messages *MessagePipeline
	trust    *TrustGraphBuilder
	wallet   *WalletEngine

	defaultRelays []string

	// Overlapping cycles would interleave tombstone computation against
	// the shared cache, so refreshes are single-flight.
	inFlight atomic.Bool

	mu   sync.RWMutex
	view *View
}

func NewOrchestrator(
	fetcher Fetcher,
	signer Signer,
	cache EventCache,
	settings Settings,
	messages *MessagePipeline,
	trust *TrustGraphBuilder,
	wallet *WalletEngine,
	defaultRelays []string,
) *Orchestrator {
	return &Orchestrator{
		fetcher:       fetcher,
		signer:        signer,
		cache:         cache,
		settings:      settings,
		messages:      messages,
		trust:         trust,
		wallet:        wallet,
		defaultRelays: defaultRelays,
	}
}

// View returns the result of the last completed cycle, or nil before the
// first one finishes.
func (o *Orchestrator) View() *View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

// InsertMessage places one freshly sent or received message into the live
// view at the position its direction implies, without waiting for the next
// cycle. The published view is treated as immutable by readers, so the
// thread map and the touched thread are copied before the swap. A no-op
// before the first cycle completes; the next bulk load covers it.
func (o *Orchestrator) InsertMessage(msg domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.view == nil {
		return
	}

	next := *o.view
	next.Threads = make(map[string]*domain.Thread, len(o.view.Threads)+1)
	for counterparty, thread := range o.view.Threads {
		next.Threads[counterparty] = thread
	}

	thread := domain.Thread{Counterparty: msg.Counterparty}
	if existing, ok := next.Threads[msg.Counterparty]; ok {
		thread.Messages = append([]domain.Message(nil), existing.Messages...)
	}
	thread.Insert(msg)
	next.Threads[msg.Counterparty] = &thread

	o.view = &next
}

// Refresh runs one full cycle. A second caller while a cycle is running
// gets ErrRefreshInFlight instead of a concurrent run.
func (o *Orchestrator) Refresh(ctx context.Context) (*View, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrRefreshInFlight
	}
	defer o.inFlight.Store(false)

	ctx, span := cycleTracer.Start(ctx, "Orchestrator.Refresh")
	defer span.End()

	view := &View{
		Profiles: map[string]domain.Profile{},
		Shops:    map[string]domain.ShopProfile{},
		Threads:  map[string]*domain.Thread{},
	}
	local := o.signer.PublicKey()

	wot, err := o.settings.GetInt(ctx, SettingWot)
	if err != nil || wot < 1 {
		wot = 1
	}

	o.resolveRelayLists(ctx, local, o.relaysFor(ctx, SettingReadRelays))

	// Later stages use the freshly resolved lists.
	readRelays := o.relaysFor(ctx, SettingReadRelays)
	writeRelays := o.relaysFor(ctx, SettingWriteRelays)

	listings := o.reconcileListings(ctx, view, readRelays)
	o.reconcileProfiles(ctx, view, listings, local, readRelays)
	o.processMessages(ctx, view, local, readRelays)

	graph, err := o.trust.Build(ctx, local, wot, readRelays)
	if err != nil {
		slog.WarnContext(ctx, "trust graph build failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
	} else {
		view.Graph = graph
	}

	wallet, err := o.wallet.Reconcile(ctx, writeRelays)
	if err != nil {
		slog.WarnContext(ctx, "wallet reconciliation failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
	} else {
		view.Wallet = wallet
		if len(wallet.Mints) > 0 {
			o.saveStrings(ctx, SettingMints, wallet.Mints)
		}
	}

	o.aggregateReviews(ctx, view, listings, readRelays)

	view.RefreshedAt = time.Now()

	o.mu.Lock()
	o.view = view
	o.mu.Unlock()

	return view, nil
}

// relaysFor reads a relay list setting, falling back to the configured
// defaults when the store is cold or unreadable.
func (o *Orchestrator) relaysFor(ctx context.Context, key string) []string {
	relays, err := o.settings.GetStrings(ctx, key)
	if err != nil || len(relays) == 0 {
		return o.defaultRelays
	}
	return relays
}

// resolveRelayLists refreshes the persisted relay and media-server lists
// from the user's own kind-10002/10063 records.
func (o *Orchestrator) resolveRelayLists(ctx context.Context, local string, relays []string) {
	events, err := o.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds:   []int{milkmarket.KindRelayList, milkmarket.KindBlossomList},
		Authors: []string{local},
	}}, relays)
	if err != nil {
		slog.WarnContext(ctx, "relay list fetch failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
		return
	}

	var relayList, blossomList *nostr.Event
	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case milkmarket.KindRelayList:
			if relayList == nil || newerThan(*ev, *relayList) {
				relayList = ev
			}
		case milkmarket.KindBlossomList:
			if blossomList == nil || newerThan(*ev, *blossomList) {
				blossomList = ev
			}
		}
	}

	if relayList != nil {
		var all, read, write []string
		for _, entry := range milkmarket.ParseRelayList(*relayList) {
			all = append(all, entry.URL)
			if entry.Read {
				read = append(read, entry.URL)
			}
			if entry.Write {
				write = append(write, entry.URL)
			}
		}
		o.saveStrings(ctx, SettingRelays, all)
		o.saveStrings(ctx, SettingReadRelays, read)
		o.saveStrings(ctx, SettingWriteRelays, write)
	}
	if blossomList != nil {
		o.saveStrings(ctx, SettingBlossomServers, milkmarket.ParseServerList(*blossomList))
	}
}

// reconcileListings runs the cache-first merge for kind-30402 records and
// projects the survivors.
func (o *Orchestrator) reconcileListings(ctx context.Context, view *View, relays []string) []domain.Listing {
	merged := o.reconcileKinds(ctx, []nostr.Filter{{
		Kinds: []int{milkmarket.KindListing},
		Tags:  nostr.TagMap{"t": []string{milkmarket.MarketTag, milkmarket.FreeMarketTag}},
	}}, []int{milkmarket.KindListing}, nil, relays)

	var listings []domain.Listing
	for _, ev := range merged {
		listing, err := domain.ListingFromEvent(ev)
		if err != nil {
			slog.DebugContext(ctx, "unparsable listing",
				slog.String("id", ev.ID),
				slog.String("module", "cycle"),
			)
			continue
		}
		listings = append(listings, listing)
	}
	view.Listings = listings
	return listings
}

// reconcileProfiles merges profile and shop-profile records for every
// merchant seen in the listing scan plus the local user.
func (o *Orchestrator) reconcileProfiles(ctx context.Context, view *View, listings []domain.Listing, local string, relays []string) {
	authorSet := map[string]struct{}{local: {}}
	authors := []string{local}
	for _, l := range listings {
		if _, ok := authorSet[l.Merchant]; ok {
			continue
		}
		authorSet[l.Merchant] = struct{}{}
		authors = append(authors, l.Merchant)
	}

	kinds := []int{milkmarket.KindProfile, milkmarket.KindShopProfile}
	merged := o.reconcileKinds(ctx, []nostr.Filter{{
		Kinds:   kinds,
		Authors: authors,
	}}, kinds, authors, relays)

	for _, ev := range merged {
		switch ev.Kind {
		case milkmarket.KindProfile:
			if profile, err := domain.ProfileFromEvent(ev); err == nil {
				view.Profiles[profile.PubKey] = profile
			}
		case milkmarket.KindShopProfile:
			if shop, err := domain.ShopProfileFromEvent(ev); err == nil {
				view.Shops[shop.PubKey] = shop
			}
		}
	}
}

// reconcileKinds is the shared cache-first pass: hydrate from cache, fetch
// fresh, merge, evict tombstones, persist the merged set. A cache failure
// degrades to a cold start.
func (o *Orchestrator) reconcileKinds(ctx context.Context, filters []nostr.Filter, kinds []int, authors []string, relays []string) []nostr.Event {
	cached, err := o.cache.Query(ctx, kinds, authors)
	if err != nil {
		slog.WarnContext(ctx, "cache read failed, starting cold",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
		cached = nil
	}

	fresh, err := o.fetcher.Fetch(ctx, filters, relays)
	if err != nil {
		slog.WarnContext(ctx, "fetch failed, serving cache",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
		merged, _ := Reconcile(cached, cached)
		return merged
	}

	merged, tombstones := Reconcile(cached, fresh)
	if len(tombstones) > 0 {
		if err := o.cache.Delete(ctx, tombstones); err != nil {
			slog.WarnContext(ctx, "cache eviction failed",
				slog.String("error", err.Error()),
				slog.String("module", "cycle"),
			)
		}
	}
	if err := o.cache.Save(ctx, merged); err != nil {
		slog.WarnContext(ctx, "cache write failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
	}
	return merged
}

// processMessages fetches the local user's gift-wrapped envelopes and runs
// the unwrap pipeline.
func (o *Orchestrator) processMessages(ctx context.Context, view *View, local string, relays []string) {
	wraps, err := o.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds: []int{milkmarket.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{local}},
	}}, relays)
	if err != nil {
		slog.WarnContext(ctx, "message fetch failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
		return
	}

	result := o.messages.Process(ctx, wraps)
	view.Threads = result.Threads
	view.Drops = result.Drops
}

// aggregateReviews fetches reviews addressed to the merchants currently on
// display and folds them.
func (o *Orchestrator) aggregateReviews(ctx context.Context, view *View, listings []domain.Listing, relays []string) {
	if len(listings) == 0 {
		view.Reviews = AggregateReviews(nil)
		return
	}

	events, err := o.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds: []int{milkmarket.KindReview},
	}}, relays)
	if err != nil {
		slog.WarnContext(ctx, "review fetch failed",
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
		view.Reviews = AggregateReviews(nil)
		return
	}
	view.Reviews = AggregateReviews(events)
}

func (o *Orchestrator) saveStrings(ctx context.Context, key string, values []string) {
	if err := o.settings.SetStrings(ctx, key, values); err != nil {
		slog.WarnContext(ctx, "settings write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
			slog.String("module", "cycle"),
		)
	}
}
