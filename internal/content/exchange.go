// Package content implements the publish, retrieval and sync contract
// with the network runtime, plus auto-seeding of a local content
// folder. Outgoing requests always carry the structural
// anti-censorship constants; significance only ever raises
// replication, never gates access.
package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/internal/logging"
	"github.com/samizdat-net/samizdat/pkg/types"
)

// Replication targets by significance grade. Elevated grades buy more
// copies, nothing else.
const (
	defaultReplicas = 2
	notableReplicas = 3
	vitalReplicas   = 5
)

// Exchange talks the content protocol with the runtime.
type Exchange struct {
	commander bridge.Commander
	bus       *events.Bus
}

// NewExchange creates a content exchange over the given runtime
// commander.
func NewExchange(commander bridge.Commander) *Exchange {
	return &Exchange{commander: commander}
}

// SetBus wires in the event bus for publish notifications.
func (e *Exchange) SetBus(bus *events.Bus) {
	e.bus = bus
}

// Publish stores data on the network and returns its content hash.
// The outgoing cultural context is sanitized and marshaled with
// access_restrictions=false and information_only=true regardless of
// what the caller put in it; a nil context is replaced with an empty
// one so the constants always travel. Significance elevates the
// redundancy hints sent along.
func (e *Exchange) Publish(ctx context.Context, data []byte, cultural *types.CulturalContext) (types.ContentHash, error) {
	if len(data) == 0 {
		return types.ContentHash{}, bridge.MarkPermanent(fmt.Errorf("no content data"))
	}

	// Even a metadata-less publish ships the structural constants: the
	// wire context is never omitted, only its informational fields are.
	meta := cultural.Sanitized()
	if meta == nil {
		meta = &types.CulturalContext{}
	}

	args := map[string]any{
		"data":             data,
		"pin":              true,
		"redundancy":       redundancyFor(cultural),
		"cultural_context": meta,
	}

	raw, err := e.commander.Call(ctx, bridge.CmdContentPublish, args)
	if err != nil {
		return types.ContentHash{}, fmt.Errorf("publish content: %w", err)
	}

	hash, err := decodePublishedHash(raw)
	if err != nil {
		return types.ContentHash{}, err
	}

	if e.bus != nil {
		e.bus.Publish(events.EventContentPublished, hash.String())
	}
	logging.Audit(logging.AuditEvent{
		Operation: "content_published",
		Target:    hash.String(),
		Result:    "success",
	})
	logging.Info("content published",
		logging.Hash(hash.String()),
		"bytes", len(data),
		logging.Component("content"))
	return hash, nil
}

// Request fetches content by hash, optionally from a specific peer.
// The request always asks for filter bypass and alternative narrative
// support. A hash no provider currently holds is a normal empty
// result, not an error.
func (e *Exchange) Request(ctx context.Context, hash types.ContentHash, peerID string) (types.Content, error) {
	if hash.IsZero() {
		return types.Content{}, bridge.MarkPermanent(fmt.Errorf("no content hash"))
	}

	args := map[string]any{
		"hash":                   hash.String(),
		"filter_bypass":          true,
		"alternative_narratives": true,
	}
	if peerID != "" {
		args["peer_id"] = peerID
	}

	raw, err := e.commander.Call(ctx, bridge.CmdContentRequest, args)
	if err != nil {
		if bridge.IsNotFound(err) {
			logging.Debug("content has no providers yet",
				logging.Hash(hash.String()),
				logging.Component("content"))
			return types.Content{Hash: hash, Providers: 0}, nil
		}
		return types.Content{}, fmt.Errorf("request content %s: %w", hash.String(), err)
	}

	var content types.Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return types.Content{}, bridge.MarkTransient(fmt.Errorf("decode content %s: %w", hash.String(), err))
	}
	if content.Hash.IsZero() {
		content.Hash = hash
	}
	return content, nil
}

// Sync runs one synchronization round. Whatever filters the caller
// supplied, the plan sent out includes cultural content and preserves
// alternative versions.
func (e *Exchange) Sync(ctx context.Context, req *types.SyncRequest) error {
	var plan types.SyncRequest
	if req != nil {
		plan = *req
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	plan.IncludeCulturalContent = true
	plan.PreserveAlternativeVersions = true

	args := map[string]any{
		"id":                            plan.ID,
		"include_cultural_content":      true,
		"preserve_alternative_versions": true,
	}
	if plan.Scope != "" {
		args["scope"] = plan.Scope
	}
	if len(plan.Filters) > 0 {
		args["filters"] = plan.Filters
	}

	if _, err := e.commander.Call(ctx, bridge.CmdContentSync, args); err != nil {
		return fmt.Errorf("sync %s: %w", plan.ID, err)
	}

	logging.Info("sync round completed",
		"request_id", plan.ID,
		"scope", plan.Scope,
		logging.Component("content"))
	return nil
}

// redundancyFor maps cultural significance to the redundancy hints
// attached to a publish.
func redundancyFor(cultural *types.CulturalContext) map[string]any {
	replicas := defaultReplicas
	priority := "normal"
	if cultural != nil {
		switch cultural.Significance {
		case types.SignificanceVital:
			replicas = vitalReplicas
			priority = "high"
		case types.SignificanceNotable:
			replicas = notableReplicas
			priority = "elevated"
		}
	}
	return map[string]any{
		"priority": priority,
		"replicas": replicas,
	}
}

// decodePublishedHash accepts the hash either as a structured object
// or as a bare string.
func decodePublishedHash(raw []byte) (types.ContentHash, error) {
	var out struct {
		Hash json.RawMessage `json:"hash"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Hash) == 0 {
		return types.ContentHash{}, bridge.MarkTransient(fmt.Errorf("runtime returned no content hash"))
	}

	var structured types.ContentHash
	if err := json.Unmarshal(out.Hash, &structured); err == nil && !structured.IsZero() {
		return structured, nil
	}

	var plain string
	if err := json.Unmarshal(out.Hash, &plain); err == nil {
		if parsed, err := types.ParseContentHash(plain); err == nil {
			return parsed, nil
		}
	}
	return types.ContentHash{}, bridge.MarkTransient(fmt.Errorf("runtime returned an unreadable content hash"))
}
