package usecase

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

var pipelineTracer = otel.Tracer("messages")

// Inner chat rumor kind carried inside seal envelopes.
const KindChatRumor = 14

// MessagePipeline unwraps gift-wrapped envelopes into verified messages
// bucketed by counterparty. Every stage fails closed: an envelope that
// cannot be unwrapped or verified is dropped with a reason, never fatal.
type MessagePipeline struct {
	signer Signer
	cache  MessageCache
}

func NewMessagePipeline(signer Signer, cache MessageCache) *MessagePipeline {
	return &MessagePipeline{signer: signer, cache: cache}
}

// PipelineResult is a processed bulk load: threads plus the diagnostics of
// everything that was excluded along the way.
type PipelineResult struct {
	Threads map[string]*domain.Thread
	Drops   []domain.Drop
}

// Process runs the full unwrap state machine over a bulk load of wrapper
// records, sorts each resulting thread ascending, and persists newly seen
// messages to the cache.
func (p *MessagePipeline) Process(ctx context.Context, wraps []nostr.Event) PipelineResult {
	ctx, span := pipelineTracer.Start(ctx, "MessagePipeline.Process")
	defer span.End()

	result := PipelineResult{Threads: map[string]*domain.Thread{}}
	seen := map[string]struct{}{}
	var fresh []domain.Message

	for _, wrap := range wraps {
		msg, reason := p.unwrap(wrap)
		if reason != "" {
			result.Drops = append(result.Drops, domain.Drop{EventID: wrap.ID, Reason: reason})
			continue
		}

		if _, dup := seen[msg.ID]; dup {
			result.Drops = append(result.Drops, domain.Drop{EventID: wrap.ID, Reason: domain.DropDuplicate})
			continue
		}
		seen[msg.ID] = struct{}{}

		// A cached copy wins over the re-decrypted one: it carries the
		// local read flag.
		if cached, err := p.cache.Get(ctx, msg.ID); err == nil && cached != nil {
			msg = *cached
		} else {
			fresh = append(fresh, msg)
		}

		thread, ok := result.Threads[msg.Counterparty]
		if !ok {
			thread = &domain.Thread{Counterparty: msg.Counterparty}
			result.Threads[msg.Counterparty] = thread
		}
		thread.Messages = append(thread.Messages, msg)
	}

	for _, thread := range result.Threads {
		thread.SortAscending()
	}

	if len(fresh) > 0 {
		if err := p.cache.Save(ctx, fresh); err != nil {
			slog.WarnContext(ctx, "message cache write failed",
				slog.String("error", err.Error()),
				slog.String("module", "messages"),
			)
		}
	}

	return result
}

// unwrap runs one envelope through wrap -> seal -> rumor. The empty reason
// means success.
func (p *MessagePipeline) unwrap(wrap nostr.Event) (domain.Message, domain.DropReason) {
	sealJSON, err := p.signer.Decrypt(wrap.PubKey, wrap.Content)
	if err != nil {
		return domain.Message{}, domain.DropUndecryptableWrap
	}

	var seal nostr.Event
	if err := json.Unmarshal([]byte(sealJSON), &seal); err != nil || seal.Kind != milkmarket.KindSeal {
		return domain.Message{}, domain.DropMalformedSeal
	}

	rumorJSON, err := p.signer.Decrypt(seal.PubKey, seal.Content)
	if err != nil {
		return domain.Message{}, domain.DropUndecryptableSeal
	}

	var rumor nostr.Event
	if err := json.Unmarshal([]byte(rumorJSON), &rumor); err != nil || rumor.ID == "" {
		return domain.Message{}, domain.DropMalformedRumor
	}

	// The outer layers only route the envelope. The seal is signed by the
	// real sender, so the rumor's author claim must match it.
	if rumor.PubKey != seal.PubKey {
		return domain.Message{}, domain.DropAuthorMismatch
	}

	subject, _ := milkmarket.TagValue(rumor, "subject")
	if _, ok := domain.AllowedSubjects[subject]; !ok {
		return domain.Message{}, domain.DropSubjectRejected
	}

	local := p.signer.PublicKey()
	outgoing := rumor.PubKey == local
	counterparty := rumor.PubKey
	if outgoing {
		recipient, ok := milkmarket.TagValue(rumor, "p")
		if !ok {
			return domain.Message{}, domain.DropNoCounterparty
		}
		counterparty = recipient
	}

	return domain.Message{
		ID:           rumor.ID,
		Author:       rumor.PubKey,
		Counterparty: counterparty,
		Subject:      subject,
		Content:      rumor.Content,
		CreatedAt:    int64(rumor.CreatedAt),
		Outgoing:     outgoing,
	}, ""
}

// Send builds, wraps and publishes an outgoing message, returning the
// optimistic local copy for directional thread insertion.
func (p *MessagePipeline) Send(ctx context.Context, fetcher Fetcher, relays []string, peer, subject, content string) (domain.Message, error) {
	ctx, span := pipelineTracer.Start(ctx, "MessagePipeline.Send")
	defer span.End()

	rumor := nostr.Event{
		PubKey:    p.signer.PublicKey(),
		CreatedAt: nostr.Now(),
		Kind:      KindChatRumor,
		Tags: nostr.Tags{
			{"p", peer},
			{"subject", subject},
		},
		Content: content,
	}
	rumor.ID = rumor.GetID()

	wrap, err := p.signer.Wrap(peer, rumor)
	if err != nil {
		return domain.Message{}, err
	}
	if err := fetcher.Publish(ctx, wrap, relays); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:           rumor.ID,
		Author:       rumor.PubKey,
		Counterparty: peer,
		Subject:      subject,
		Content:      content,
		CreatedAt:    int64(rumor.CreatedAt),
		Outgoing:     true,
		Read:         true,
	}
	if err := p.cache.Save(ctx, []domain.Message{msg}); err != nil {
		slog.WarnContext(ctx, "message cache write failed",
			slog.String("error", err.Error()),
			slog.String("module", "messages"),
		)
	}
	return msg, nil
}
