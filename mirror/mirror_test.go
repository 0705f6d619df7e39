package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

func newTestDatabase(t *testing.T) storage.Database {
	t.Helper()
	dbOpts := &config.DatabaseOptions{
		ConnectionString: config.DataSource("file::memory:"),
	}
	limits := &config.Limits{
		MaxNameLength:        100,
		MaxDescriptionLength: 400,
		MaxSubjectLength:     200,
		MaxLanguageLength:    32,
	}
	db, err := storage.NewDatabase(dbOpts, limits, caching.NewRistrettoCache(false))
	require.NoError(t, err)
	return db
}

type fakePubSub struct {
	mu         sync.Mutex
	nodes      map[string]bool
	configs    map[string]xmpp.NodeConfig
	items      map[string]map[string][]byte
	subscribed map[string]bool
	events     chan *xmpp.PubSubEvent
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{
		nodes:      make(map[string]bool),
		configs:    make(map[string]xmpp.NodeConfig),
		items:      make(map[string]map[string][]byte),
		subscribed: make(map[string]bool),
		events:     make(chan *xmpp.PubSubEvent, 64),
	}
}

func (p *fakePubSub) CreateNode(ctx context.Context, node string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodes[node] {
		return xmpp.NewError(xmpp.ConditionConflict, "node exists")
	}
	p.nodes[node] = true
	p.items[node] = make(map[string][]byte)
	return nil
}

func (p *fakePubSub) ConfigureNode(ctx context.Context, node string, cfg xmpp.NodeConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[node] = cfg
	return nil
}

func (p *fakePubSub) DeleteNode(ctx context.Context, node string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, node)
	delete(p.items, node)
	return nil
}

func (p *fakePubSub) Subscribe(ctx context.Context, node string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed[node] {
		return xmpp.NewError(xmpp.ConditionConflict, "already subscribed")
	}
	p.subscribed[node] = true
	return nil
}

func (p *fakePubSub) ItemIDs(ctx context.Context, node string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id := range p.items[node] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *fakePubSub) ItemsByID(ctx context.Context, node string, ids []string) ([]xmpp.PubSubItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []xmpp.PubSubItem
	for _, id := range ids {
		payload, ok := p.items[node][id]
		if !ok {
			return nil, xmpp.NewError(xmpp.ConditionItemNotFound, "")
		}
		out = append(out, xmpp.PubSubItem{ID: id, Payload: payload})
	}
	return out, nil
}

func (p *fakePubSub) Publish(ctx context.Context, node string, id string, payload interface{}) error {
	raw, err := xmpp.MarshalPayload(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items[node] == nil {
		p.items[node] = make(map[string][]byte)
	}
	p.items[node][id] = raw
	return nil
}

func (p *fakePubSub) Retract(ctx context.Context, node string, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[node][id]; !ok {
		return xmpp.NewError(xmpp.ConditionItemNotFound, "")
	}
	delete(p.items[node], id)
	return nil
}

func (p *fakePubSub) Events() <-chan *xmpp.PubSubEvent {
	return p.events
}

func (p *fakePubSub) itemIDSet(node string) map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool, len(p.items[node]))
	for id := range p.items[node] {
		out[id] = true
	}
	return out
}

func (p *fakePubSub) seed(node string, item *SyncItem) {
	payload, err := xmpp.MarshalPayload(item)
	if err != nil {
		panic(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes[node] = true
	if p.items[node] == nil {
		p.items[node] = make(map[string][]byte)
	}
	p.items[node][item.Address] = payload
}

// pubsubClient adapts fakePubSub to the client interface the mirror
// constructors take.
type pubsubClient struct {
	pubsub *fakePubSub
}

func (c *pubsubClient) DiscoInfo(ctx context.Context, addr types.Address, fresh bool) (*xmpp.Info, error) {
	return nil, errors.New("not implemented")
}

func (c *pubsubClient) DiscoItems(ctx context.Context, addr types.Address, node string, rsm *xmpp.RSMRequest) (*xmpp.ItemsPage, error) {
	return nil, errors.New("not implemented")
}

func (c *pubsubClient) Version(ctx context.Context, addr types.Address) (*xmpp.VersionInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *pubsubClient) SetSoftwareVersion(name, version string) {}

func (c *pubsubClient) JoinRoom(ctx context.Context, addr types.Address, nick string) (xmpp.Room, error) {
	return nil, errors.New("not implemented")
}

func (c *pubsubClient) FetchAvatar(ctx context.Context, addr types.Address) ([]byte, string, error) {
	return nil, "", errors.New("not implemented")
}

func (c *pubsubClient) SendMessage(ctx context.Context, msg *xmpp.Message) error {
	return errors.New("not implemented")
}

func (c *pubsubClient) Messages() <-chan *xmpp.Message {
	return nil
}

func (c *pubsubClient) PubSub(service types.Address) xmpp.PubSub {
	return c.pubsub
}

func listedUpdate(name string, nusers int) *types.RoomUpdate {
	open := true
	return &types.RoomUpdate{
		NUsers:   &nusers,
		IsOpen:   &open,
		IsPublic: &open,
		Name:     &name,
	}
}

func TestServer_InitialReconciliation(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	known := types.MustParseAddress("known@muc.example.net")
	missing := types.MustParseAddress("missing@muc.example.net")

	require.NoError(t, db.UpdateRoomMetadata(ctx, known, listedUpdate("Known", 3)))
	require.NoError(t, db.UpdateRoomMetadata(ctx, missing, listedUpdate("Missing", 5)))

	pubsub := newFakePubSub()
	pubsub.seed(NodeMUCs, &SyncItem{Address: known.String(), IsOpen: true, Name: "Known"})
	pubsub.seed(NodeMUCs, &SyncItem{Address: "stale@muc.example.net", IsOpen: true, Name: "Stale"})

	server := NewServer(db, &pubsubClient{pubsub}, types.MustParseAddress("pubsub.example.net"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = server.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		ids := pubsub.itemIDSet(NodeMUCs)
		return ids[known.String()] && ids[missing.String()] && !ids["stale@muc.example.net"]
	}, 10*time.Second, 50*time.Millisecond)
}

func TestServer_PublishesOnChangeAndRetractsOnDelete(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	pubsub := newFakePubSub()
	server := NewServer(db, &pubsubClient{pubsub}, types.MustParseAddress("pubsub.example.net"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = server.Run(runCtx) }()

	addr := types.MustParseAddress("fresh@muc.example.net")
	require.NoError(t, db.UpdateRoomMetadata(ctx, addr, listedUpdate("Fresh", 9)))

	assert.Eventually(t, func() bool {
		return pubsub.itemIDSet(NodeMUCs)[addr.String()]
	}, 10*time.Second, 50*time.Millisecond)

	items, err := pubsub.ItemsByID(ctx, NodeMUCs, []string{addr.String()})
	require.NoError(t, err)
	require.Len(t, items, 1)
	item, err := ParseSyncItem(items[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "Fresh", item.Name)
	assert.True(t, bool(item.IsOpen))
	require.NotNil(t, item.NUsers)
	assert.Equal(t, 9.0, *item.NUsers)

	require.NoError(t, db.DeleteAllRoomData(ctx, addr))
	assert.Eventually(t, func() bool {
		return !pubsub.itemIDSet(NodeMUCs)[addr.String()]
	}, 10*time.Second, 50*time.Millisecond)
}

func TestServer_UnlistedRoomTurnsIntoRetraction(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	addr := types.MustParseAddress("shy@muc.example.net")

	pubsub := newFakePubSub()
	server := NewServer(db, &pubsubClient{pubsub}, types.MustParseAddress("pubsub.example.net"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = server.Run(runCtx) }()

	require.NoError(t, db.UpdateRoomMetadata(ctx, addr, listedUpdate("Shy", 2)))
	assert.Eventually(t, func() bool {
		return pubsub.itemIDSet(NodeMUCs)[addr.String()]
	}, 10*time.Second, 50*time.Millisecond)

	private := false
	require.NoError(t, db.UpdateRoomMetadata(ctx, addr, &types.RoomUpdate{IsPublic: &private}))
	assert.Eventually(t, func() bool {
		return !pubsub.itemIDSet(NodeMUCs)[addr.String()]
	}, 10*time.Second, 50*time.Millisecond)
}

func TestClient_InitialTransferAndSweep(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	// a local leftover the remote no longer knows
	leftover := types.MustParseAddress("leftover@muc.example.net")
	require.NoError(t, db.UpdateRoomMetadata(ctx, leftover, listedUpdate("Leftover", 1)))

	nusers := 12.0
	pubsub := newFakePubSub()
	pubsub.seed(NodeMUCs, &SyncItem{
		Address: "alpha@muc.example.net", IsOpen: true, Name: "Alpha", NUsers: &nusers,
	})
	pubsub.seed(NodeMUCs, &SyncItem{
		Address: "beta@muc.example.net", IsOpen: true, Name: "Beta",
	})

	client := NewClient(db, &pubsubClient{pubsub}, types.MustParseAddress("pubsub.example.net"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(runCtx)
	}()

	assert.Eventually(t, func() bool {
		addresses, err := db.GetPublicRoomAddresses(ctx)
		if err != nil || len(addresses) != 2 {
			return false
		}
		seen := map[string]bool{}
		for _, a := range addresses {
			seen[a] = true
		}
		return seen["alpha@muc.example.net"] && seen["beta@muc.example.net"]
	}, 10*time.Second, 50*time.Millisecond)

	view, err := db.GetPublicRoomView(ctx, types.MustParseAddress("alpha@muc.example.net"))
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "Alpha", view.Name.String)
	assert.Equal(t, 12.0, view.NUsersMovingAverage.Float64)

	cancel()
	<-done
}

func TestClient_AppliesPushEvents(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	pubsub := newFakePubSub()
	client := NewClient(db, &pubsubClient{pubsub}, types.MustParseAddress("pubsub.example.net"))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = client.Run(runCtx) }()

	payload, err := xmpp.MarshalPayload(&SyncItem{
		Address: "pushed@muc.example.net", IsOpen: true, Name: "Pushed",
	})
	require.NoError(t, err)
	pubsub.events <- &xmpp.PubSubEvent{
		Kind: xmpp.PubSubEventPublish,
		Node: NodeMUCs,
		Item: xmpp.PubSubItem{ID: "pushed@muc.example.net", Payload: payload},
	}

	addr := types.MustParseAddress("pushed@muc.example.net")
	assert.Eventually(t, func() bool {
		view, err := db.GetPublicRoomView(ctx, addr)
		return err == nil && view != nil && view.Name.String == "Pushed"
	}, 10*time.Second, 50*time.Millisecond)

	pubsub.events <- &xmpp.PubSubEvent{
		Kind: xmpp.PubSubEventRetract,
		Node: NodeMUCs,
		Item: xmpp.PubSubItem{ID: "pushed@muc.example.net"},
	}
	assert.Eventually(t, func() bool {
		view, err := db.GetPublicRoomView(ctx, addr)
		return err == nil && view == nil
	}, 10*time.Second, 50*time.Millisecond)
}
