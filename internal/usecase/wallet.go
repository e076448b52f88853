package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

var walletTracer = otel.Tracer("wallet")

// WalletEngine replays the wallet event log into the canonical unspent
// proof set, verified against live mint state.
//
// Exclusion of a proof from the unspent set happens only on a positive
// spent confirmation from its mint. A failed mint check retains the
// proofs: occasionally keeping a spent proof until the next successful
// check is recoverable, silently losing money is not.
type WalletEngine struct {
	fetcher Fetcher
	signer  Signer
	mints   MintClient
}

func NewWalletEngine(fetcher Fetcher, signer Signer, mints MintClient) *WalletEngine {
	return &WalletEngine{fetcher: fetcher, signer: signer, mints: mints}
}

// Reconcile fetches the wallet event streams from the given relays and
// folds them into a WalletState. Fully consumed bundle records are
// scheduled for relay-side deletion and a deletion request is published.
func (e *WalletEngine) Reconcile(ctx context.Context, relays []string) (*domain.WalletState, error) {
	ctx, span := walletTracer.Start(ctx, "WalletEngine.Reconcile")
	defer span.End()

	owner := e.signer.PublicKey()
	events, err := e.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds: []int{
			milkmarket.KindWalletMeta,
			milkmarket.KindWalletMetaOld,
			milkmarket.KindProofBundle,
			milkmarket.KindSpendingHistory,
		},
		Authors: []string{owner},
	}}, relays)
	if err != nil {
		return nil, errors.Wrap(err, "wallet fetch failed")
	}

	meta, bundles, history := e.decode(ctx, events)
	state := e.replay(ctx, meta, bundles, history)

	state.MintInfo = e.describeMints(ctx, state.Mints)

	if len(state.SpentRecordIDs) > 0 {
		e.requestDeletion(ctx, state.SpentRecordIDs, relays)
	}

	return state, nil
}

// describeMints collects the self-description of every known mint. A mint
// that does not answer simply has no entry this cycle.
func (e *WalletEngine) describeMints(ctx context.Context, mints []string) map[string]domain.MintInfo {
	if len(mints) == 0 {
		return nil
	}
	out := map[string]domain.MintInfo{}
	for _, mint := range mints {
		info, err := e.mints.Info(ctx, mint)
		if err != nil {
			slog.DebugContext(ctx, "mint info unavailable",
				slog.String("mint", mint),
				slog.String("module", "wallet"),
			)
			continue
		}
		out[mint] = info
	}
	return out
}

// decode decrypts and classifies the raw wallet records. Undecryptable or
// malformed records are dropped; they are adversarial input, not errors.
func (e *WalletEngine) decode(ctx context.Context, events []nostr.Event) (domain.WalletMeta, []domain.ProofBundle, []domain.HistoryEntry) {
	owner := e.signer.PublicKey()

	var meta domain.WalletMeta
	var bundles []domain.ProofBundle
	var history []domain.HistoryEntry
	seen := map[string]struct{}{}

	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}

		plaintext, err := e.signer.Decrypt(owner, ev.Content)
		if err != nil {
			slog.DebugContext(ctx, "undecryptable wallet record",
				slog.String("id", ev.ID),
				slog.String("module", "wallet"),
			)
			continue
		}

		switch ev.Kind {
		case milkmarket.KindWalletMeta, milkmarket.KindWalletMetaOld:
			// Latest metadata wins outright across both kinds; stale
			// metadata is never field-merged.
			if int64(ev.CreatedAt) <= meta.CreatedAt {
				continue
			}
			if parsed, ok := parseWalletMeta(plaintext); ok {
				parsed.CreatedAt = int64(ev.CreatedAt)
				meta = parsed
			}
		case milkmarket.KindProofBundle:
			bundle, ok := parseProofBundle(plaintext)
			if !ok {
				continue
			}
			bundle.EventID = ev.ID
			bundle.CreatedAt = int64(ev.CreatedAt)
			if bundle.Mint == "" {
				// Legacy bundles carry their mint as a plaintext tag.
				bundle.Mint, _ = milkmarket.TagValue(ev, "mint")
			}
			if bundle.Mint == "" {
				continue
			}
			bundles = append(bundles, bundle)
		case milkmarket.KindSpendingHistory:
			entry, ok := parseHistoryEntry(plaintext, ev)
			if !ok {
				continue
			}
			history = append(history, entry)
		}
	}

	return meta, bundles, history
}

// replay folds the decoded streams into the unspent set.
func (e *WalletEngine) replay(ctx context.Context, meta domain.WalletMeta, bundles []domain.ProofBundle, history []domain.HistoryEntry) *domain.WalletState {
	// Mint list: metadata plus every mint a bundle names.
	mintSet := map[string]struct{}{}
	var mints []string
	addMint := func(url string) {
		if url == "" {
			return
		}
		if _, ok := mintSet[url]; ok {
			return
		}
		mintSet[url] = struct{}{}
		mints = append(mints, url)
	}
	for _, m := range meta.Mints {
		addMint(m)
	}
	for _, b := range bundles {
		addMint(b.Mint)
	}

	// History replay. Destroyed bundle ids leave the set; created ids
	// (change) survive only when not also destroyed later, so spent change
	// is never resurrected.
	destroyed := map[string]struct{}{}
	for _, entry := range history {
		if entry.Direction != "out" {
			continue
		}
		for _, id := range entry.Destroyed {
			destroyed[id] = struct{}{}
		}
	}
	// Bundles may also name records they supersede.
	for _, b := range bundles {
		for _, id := range b.DeletedIDs {
			destroyed[id] = struct{}{}
		}
	}

	state := &domain.WalletState{
		Mints:   mints,
		ByMint:  map[string][]milkmarket.Proof{},
		History: history,
	}

	spentRecords := sortedKeys(destroyed)

	staleMints := map[string]struct{}{}
	for _, bundle := range bundles {
		if _, gone := destroyed[bundle.EventID]; gone {
			continue
		}

		proofs := bundle.Proofs
		spent, err := e.mints.CheckSpent(ctx, bundle.Mint, proofs)
		if err != nil || len(spent) != len(proofs) {
			// Cannot confirm anything: retain the whole bundle.
			staleMints[bundle.Mint] = struct{}{}
			state.ByMint[bundle.Mint] = append(state.ByMint[bundle.Mint], proofs...)
			continue
		}

		allSpent := len(proofs) > 0
		var live []milkmarket.Proof
		for i, p := range proofs {
			if spent[i] {
				continue
			}
			allSpent = false
			live = append(live, p)
		}
		if allSpent {
			// Fully consumed: dead relay state, schedule for deletion.
			spentRecords = append(spentRecords, bundle.EventID)
			continue
		}
		state.ByMint[bundle.Mint] = append(state.ByMint[bundle.Mint], live...)
	}

	for mint, proofs := range state.ByMint {
		state.ByMint[mint] = milkmarket.DedupProofs(proofs)
		state.Balance += milkmarket.SumProofs(state.ByMint[mint])
	}
	state.StaleMints = sortedKeys(staleMints)
	state.SpentRecordIDs = spentRecords

	sort.Slice(state.History, func(i, j int) bool {
		return state.History[i].CreatedAt > state.History[j].CreatedAt
	})

	return state
}

// requestDeletion publishes a deletion request for fully consumed bundle
// records so the relay-side log does not accumulate dead state.
// Best-effort: a failed publish is retried implicitly on the next cycle.
func (e *WalletEngine) requestDeletion(ctx context.Context, ids []string, relays []string) {
	del := nostr.Event{
		PubKey:    e.signer.PublicKey(),
		CreatedAt: nostr.Now(),
		Kind:      milkmarket.KindDeletion,
		Content:   "",
	}
	for _, id := range ids {
		del.Tags = append(del.Tags, nostr.Tag{"e", id})
	}
	del.Tags = append(del.Tags, nostr.Tag{"k", "7375"})

	if err := e.signer.Sign(&del); err != nil {
		slog.WarnContext(ctx, "deletion request signing failed",
			slog.String("error", err.Error()),
			slog.String("module", "wallet"),
		)
		return
	}
	if err := e.fetcher.Publish(ctx, del, relays); err != nil {
		slog.WarnContext(ctx, "deletion request publish failed",
			slog.String("error", err.Error()),
			slog.String("module", "wallet"),
		)
	}
}

// parseWalletMeta decodes the decrypted metadata payload: an array of tag
// pairs like [["mint", url], ["privkey", key]].
func parseWalletMeta(plaintext string) (domain.WalletMeta, bool) {
	var pairs [][]string
	if err := json.Unmarshal([]byte(plaintext), &pairs); err != nil {
		return domain.WalletMeta{}, false
	}
	var meta domain.WalletMeta
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		switch pair[0] {
		case "mint":
			meta.Mints = append(meta.Mints, pair[1])
		case "privkey":
			meta.PrivateKey = pair[1]
		}
	}
	return meta, true
}

// parseProofBundle decodes the decrypted bundle payload.
func parseProofBundle(plaintext string) (domain.ProofBundle, bool) {
	var payload struct {
		Mint   string             `json:"mint"`
		Proofs []milkmarket.Proof `json:"proofs"`
		Del    []string           `json:"del"`
	}
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return domain.ProofBundle{}, false
	}
	if len(payload.Proofs) == 0 {
		return domain.ProofBundle{}, false
	}
	return domain.ProofBundle{
		Mint:       payload.Mint,
		Proofs:     payload.Proofs,
		DeletedIDs: payload.Del,
	}, true
}

// parseHistoryEntry decodes a decrypted spending-history payload (an array
// of tag tuples), folding in any plaintext e-tags older clients left on
// the record itself.
func parseHistoryEntry(plaintext string, ev nostr.Event) (domain.HistoryEntry, bool) {
	var tuples [][]string
	if err := json.Unmarshal([]byte(plaintext), &tuples); err != nil {
		return domain.HistoryEntry{}, false
	}

	entry := domain.HistoryEntry{
		EventID:   ev.ID,
		CreatedAt: int64(ev.CreatedAt),
	}
	apply := func(tuple []string) {
		if len(tuple) < 2 {
			return
		}
		switch tuple[0] {
		case "direction":
			entry.Direction = tuple[1]
		case "amount":
			var amount uint64
			if err := json.Unmarshal([]byte(tuple[1]), &amount); err == nil {
				entry.Amount = amount
			}
		case "e":
			marker := ""
			if len(tuple) >= 4 {
				marker = tuple[3]
			}
			switch marker {
			case "created":
				entry.Created = append(entry.Created, tuple[1])
			case "destroyed":
				entry.Destroyed = append(entry.Destroyed, tuple[1])
			}
		}
	}
	for _, tuple := range tuples {
		apply(tuple)
	}
	for _, ref := range milkmarket.ParseEventRefs(ev.Tags) {
		apply([]string{"e", ref.EventID, "", ref.Marker})
	}

	if entry.Direction != "in" && entry.Direction != "out" {
		return domain.HistoryEntry{}, false
	}
	return entry, true
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
