package testutil

import (
	"context"
	"sync"

	"mediasync/internal/core"
	"mediasync/internal/model"
)

// FakeGateway is an in-memory gateway for testing the sync engine.
// It mimics the real gateway's ordering and idempotency behavior: pushed
// events get strictly increasing server timestamps, and replayed event or
// batch ids are reported as duplicates.
type FakeGateway struct {
	mu          sync.Mutex
	clock       *core.LogicalClock
	events      []model.Event
	seenEvents  map[string]bool
	seenBatches map[string][]string

	// Cloud is returned by CloudAssets.
	Cloud []*model.Asset
	// Integrity is returned by CloudIntegrity.
	Integrity *core.CloudIntegrityReport
	// Err, when set, fails every call.
	Err error
	// Unauthorized, when set, fails every call with ErrUnauthorized.
	Unauthorized bool
}

// NewFakeGateway creates an empty fake gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		clock:       core.NewLogicalClock(0),
		seenEvents:  make(map[string]bool),
		seenBatches: make(map[string][]string),
	}
}

func (g *FakeGateway) fail() error {
	if g.Unauthorized {
		return core.ErrUnauthorized
	}
	return g.Err
}

// SeedClock advances the server clock to at least floor, mirroring a real
// gateway whose authority clock runs on wall time.
func (g *FakeGateway) SeedClock(floor model.Millis) {
	g.clock.Next(floor)
}

// Seed appends an event directly to the log with the next server timestamp,
// bypassing dedup. Use to stage remote state before a test.
func (g *FakeGateway) Seed(e model.Event) model.Millis {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.ServerTS = g.clock.Next(e.ServerTS)
	g.events = append(g.events, e)
	g.seenEvents[e.ID] = true
	return e.ServerTS
}

// Events returns a copy of the full log in server order.
func (g *FakeGateway) Events() []model.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.Event, len(g.events))
	copy(out, g.events)
	return out
}

func (g *FakeGateway) Register(ctx context.Context, req core.RegisterRequest) (*core.RegisterResponse, error) {
	if err := g.fail(); err != nil {
		return nil, err
	}
	return &core.RegisterResponse{Token: "test-token", ExpiresAt: 1 << 50}, nil
}

func (g *FakeGateway) PullSince(ctx context.Context, since model.Millis, limit int) (*core.PullPage, error) {
	if err := g.fail(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var page core.PullPage
	page.NextSince = since
	for _, e := range g.events {
		if e.ServerTS <= since {
			continue
		}
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		page.Events = append(page.Events, e)
		page.NextSince = e.ServerTS
	}
	return &page, nil
}

func (g *FakeGateway) PushBatch(ctx context.Context, deviceID, batchID string, events []model.Event) (*core.PushResult, error) {
	if err := g.fail(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if ids, ok := g.seenBatches[batchID]; ok {
		return &core.PushResult{
			Accepted:        []string{},
			Duplicates:      ids,
			ServerTimestamp: g.clock.Last(),
		}, nil
	}

	result := &core.PushResult{Accepted: []string{}, Duplicates: []string{}}
	var accepted []string
	for _, e := range events {
		if g.seenEvents[e.ID] {
			result.Duplicates = append(result.Duplicates, e.ID)
			continue
		}
		e.DeviceID = deviceID
		e.BatchID = batchID
		e.ServerTS = g.clock.Next(0)
		g.events = append(g.events, e)
		g.seenEvents[e.ID] = true
		result.Accepted = append(result.Accepted, e.ID)
		accepted = append(accepted, e.ID)
	}
	g.seenBatches[batchID] = accepted
	result.ServerTimestamp = g.clock.Last()
	return result, nil
}

func (g *FakeGateway) CloudAssets(ctx context.Context) ([]*model.Asset, error) {
	if err := g.fail(); err != nil {
		return nil, err
	}
	out := make([]*model.Asset, len(g.Cloud))
	for i, a := range g.Cloud {
		c := *a
		out[i] = &c
	}
	return out, nil
}

func (g *FakeGateway) CloudIntegrity(ctx context.Context) (*core.CloudIntegrityReport, error) {
	if err := g.fail(); err != nil {
		return nil, err
	}
	if g.Integrity != nil {
		return g.Integrity, nil
	}
	return &core.CloudIntegrityReport{Missing: []core.CloudMissing{}}, nil
}

// Compile-time check that FakeGateway implements the GatewayClient interface
var _ core.GatewayClient = (*FakeGateway)(nil)
