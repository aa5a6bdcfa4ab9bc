package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samizdat-net/samizdat/internal/bridge"
	"github.com/samizdat-net/samizdat/internal/events"
	"github.com/samizdat-net/samizdat/pkg/types"
)

type fakeRuntime struct {
	mu        sync.Mutex
	calls     map[string]int
	lastArgs  map[string]map[string]any
	responses map[string]json.RawMessage
	errs      map[string]error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		calls:     make(map[string]int),
		lastArgs:  make(map[string]map[string]any),
		responses: make(map[string]json.RawMessage),
		errs:      make(map[string]error),
	}
}

func (f *fakeRuntime) Call(_ context.Context, command string, args map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[command]++
	f.lastArgs[command] = args
	if err := f.errs[command]; err != nil {
		return nil, err
	}
	if resp, ok := f.responses[command]; ok {
		return resp, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeRuntime) args(command string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastArgs[command]
}

func (f *fakeRuntime) count(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[command]
}

func publishResponse(hash string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"hash":{"value":%q,"algorithm":"ipfs"}}`, hash))
}

func TestExchange_Publish_StampsConstants(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentPublish] = publishResponse("QmStamped")
	ex := NewExchange(fake)

	// A caller trying to smuggle a restriction through annotations.
	cultural := &types.CulturalContext{
		Origin:       "andes",
		Significance: types.SignificanceNotable,
		Annotations: map[string]string{
			"access_restrictions": "true",
			"accessRestrictions":  "yes",
			"theme":               "weaving",
		},
	}

	hash, err := ex.Publish(context.Background(), []byte("pattern archive"), cultural)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if hash.Value != "QmStamped" {
		t.Errorf("hash = %+v", hash)
	}

	sent, err := json.Marshal(fake.args(bridge.CmdContentPublish)["cultural_context"])
	if err != nil {
		t.Fatalf("marshal sent context: %v", err)
	}
	wire := string(sent)
	if !strings.Contains(wire, `"access_restrictions":false`) {
		t.Errorf("wire context missing forced access_restrictions=false: %s", wire)
	}
	if !strings.Contains(wire, `"information_only":true`) {
		t.Errorf("wire context missing forced information_only=true: %s", wire)
	}
	if strings.Contains(wire, `"access_restrictions":"true"`) || strings.Contains(wire, "accessRestrictions") {
		t.Errorf("smuggled annotation survived sanitization: %s", wire)
	}
	if !strings.Contains(wire, `"theme":"weaving"`) {
		t.Errorf("benign annotation was lost: %s", wire)
	}
}

func TestExchange_Publish_NilMetadataCarriesConstants(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentPublish] = publishResponse("QmBare")
	ex := NewExchange(fake)

	if _, err := ex.Publish(context.Background(), []byte("x"), nil); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	meta, ok := fake.args(bridge.CmdContentPublish)["cultural_context"]
	if !ok {
		t.Fatalf("publish args carry no cultural_context when metadata is nil: %v",
			fake.args(bridge.CmdContentPublish))
	}

	sent, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal sent context: %v", err)
	}
	wire := string(sent)
	if !strings.Contains(wire, `"access_restrictions":false`) {
		t.Errorf("nil-metadata wire context missing access_restrictions=false: %s", wire)
	}
	if !strings.Contains(wire, `"information_only":true`) {
		t.Errorf("nil-metadata wire context missing information_only=true: %s", wire)
	}
}

func TestExchange_Publish_RedundancyFollowsSignificance(t *testing.T) {
	cases := []struct {
		name         string
		cultural     *types.CulturalContext
		wantReplicas int
		wantPriority string
	}{
		{"no context", nil, defaultReplicas, "normal"},
		{"general", &types.CulturalContext{Significance: types.SignificanceGeneral}, defaultReplicas, "normal"},
		{"notable", &types.CulturalContext{Significance: types.SignificanceNotable}, notableReplicas, "elevated"},
		{"vital", &types.CulturalContext{Significance: types.SignificanceVital}, vitalReplicas, "high"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := newFakeRuntime()
			fake.responses[bridge.CmdContentPublish] = publishResponse("QmR")
			ex := NewExchange(fake)

			if _, err := ex.Publish(context.Background(), []byte("x"), tc.cultural); err != nil {
				t.Fatalf("Publish() error: %v", err)
			}

			redundancy, ok := fake.args(bridge.CmdContentPublish)["redundancy"].(map[string]any)
			if !ok {
				t.Fatal("publish args carry no redundancy hints")
			}
			if got := redundancy["replicas"].(int); got != tc.wantReplicas {
				t.Errorf("replicas = %d, want %d", got, tc.wantReplicas)
			}
			if got := redundancy["priority"].(string); got != tc.wantPriority {
				t.Errorf("priority = %q, want %q", got, tc.wantPriority)
			}
		})
	}
}

func TestExchange_Publish_RejectsEmptyData(t *testing.T) {
	fake := newFakeRuntime()
	ex := NewExchange(fake)

	_, err := ex.Publish(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Publish(nil) should fail")
	}
	if !bridge.IsPermanent(err) {
		t.Errorf("empty data should be permanent, got %v", err)
	}
	if fake.count(bridge.CmdContentPublish) != 0 {
		t.Error("runtime should not be called for empty data")
	}
}

func TestExchange_Publish_DecodesBareStringHash(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentPublish] = json.RawMessage(`{"hash":"sha256:abcd"}`)
	ex := NewExchange(fake)

	hash, err := ex.Publish(context.Background(), []byte("x"), nil)
	if err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if hash.Algorithm != "sha256" || hash.Value != "abcd" {
		t.Errorf("hash = %+v, want sha256:abcd parsed", hash)
	}
}

func TestExchange_Publish_EmitsEvent(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentPublish] = publishResponse("QmEvent")
	ex := NewExchange(fake)

	bus := events.NewBus()
	defer bus.Close()
	ex.SetBus(bus)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if _, err := ex.Publish(context.Background(), []byte("x"), nil); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Name != events.EventContentPublished {
			t.Errorf("event name = %q", ev.Name)
		}
		if got, _ := ev.Payload.(string); got != "ipfs:QmEvent" {
			t.Errorf("event payload = %v, want ipfs:QmEvent", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no publish event broadcast")
	}
}

func TestExchange_Request_SetsBypassFlags(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentRequest] = json.RawMessage(`{"hash":{"value":"QmX"},"data":"aGk=","providers":2}`)
	ex := NewExchange(fake)

	got, err := ex.Request(context.Background(), types.ContentHash{Value: "QmX"}, "peer-1")
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if string(got.Data) != "hi" || got.Providers != 2 {
		t.Errorf("content = %+v", got)
	}

	args := fake.args(bridge.CmdContentRequest)
	if args["filter_bypass"] != true {
		t.Error("filter_bypass not forced")
	}
	if args["alternative_narratives"] != true {
		t.Error("alternative_narratives not forced")
	}
	if args["peer_id"] != "peer-1" {
		t.Errorf("peer_id = %v", args["peer_id"])
	}
}

func TestExchange_Request_OmitsPeerWhenUnset(t *testing.T) {
	fake := newFakeRuntime()
	fake.responses[bridge.CmdContentRequest] = json.RawMessage(`{"hash":{"value":"QmX"},"providers":1}`)
	ex := NewExchange(fake)

	if _, err := ex.Request(context.Background(), types.ContentHash{Value: "QmX"}, ""); err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if _, present := fake.args(bridge.CmdContentRequest)["peer_id"]; present {
		t.Error("peer_id should be absent when no peer is targeted")
	}
}

func TestExchange_Request_NotFoundIsNormal(t *testing.T) {
	fake := newFakeRuntime()
	fake.errs[bridge.CmdContentRequest] = bridge.MarkPermanent(fmt.Errorf("content QmGone: %w", bridge.ErrNotFound))
	ex := NewExchange(fake)

	hash := types.ContentHash{Value: "QmGone"}
	got, err := ex.Request(context.Background(), hash, "")
	if err != nil {
		t.Fatalf("missing content should not error, got %v", err)
	}
	if got.Hash != hash {
		t.Errorf("hash = %+v, want echo of the request", got.Hash)
	}
	if got.Providers != 0 {
		t.Errorf("providers = %d, want 0", got.Providers)
	}
}

func TestExchange_Request_OtherErrorsPropagate(t *testing.T) {
	fake := newFakeRuntime()
	fake.errs[bridge.CmdContentRequest] = bridge.MarkTransient(fmt.Errorf("swarm churn"))
	ex := NewExchange(fake)

	if _, err := ex.Request(context.Background(), types.ContentHash{Value: "QmX"}, ""); err == nil {
		t.Fatal("transient failure should propagate")
	}
}

func TestExchange_Sync_ForcesInclusionFlags(t *testing.T) {
	fake := newFakeRuntime()
	ex := NewExchange(fake)

	// Caller explicitly asks to exclude cultural content.
	req := &types.SyncRequest{
		Scope:                       "recent",
		Filters:                     map[string]string{"category": "approved"},
		IncludeCulturalContent:      false,
		PreserveAlternativeVersions: false,
	}
	if err := ex.Sync(context.Background(), req); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	args := fake.args(bridge.CmdContentSync)
	if args["include_cultural_content"] != true {
		t.Error("include_cultural_content not forced")
	}
	if args["preserve_alternative_versions"] != true {
		t.Error("preserve_alternative_versions not forced")
	}
	if args["scope"] != "recent" {
		t.Errorf("scope = %v", args["scope"])
	}
	if id, _ := args["id"].(string); id == "" {
		t.Error("sync id should be generated when absent")
	}
}

func TestExchange_Sync_KeepsCallerID(t *testing.T) {
	fake := newFakeRuntime()
	ex := NewExchange(fake)

	if err := ex.Sync(context.Background(), &types.SyncRequest{ID: "round-7"}); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := fake.args(bridge.CmdContentSync)["id"]; got != "round-7" {
		t.Errorf("id = %v, want round-7", got)
	}
}

func TestExchange_Sync_NilRequest(t *testing.T) {
	fake := newFakeRuntime()
	ex := NewExchange(fake)

	if err := ex.Sync(context.Background(), nil); err != nil {
		t.Fatalf("Sync(nil) error: %v", err)
	}
	args := fake.args(bridge.CmdContentSync)
	if args["include_cultural_content"] != true || args["preserve_alternative_versions"] != true {
		t.Errorf("forced flags missing from nil-request sync: %v", args)
	}
}
