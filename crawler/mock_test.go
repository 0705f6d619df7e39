package crawler

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/errors"
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

// fakeClient serves canned responses keyed by address.
type fakeClient struct {
	mu         sync.Mutex
	infos      map[string]*xmpp.Info
	infoErrs   map[string]error
	items      map[string][]xmpp.Item
	versions   map[string]*xmpp.VersionInfo
	avatars    map[string][]byte
	avatarMIME string
	sent       []*xmpp.Message
	infoCalls  map[string]int
	messages   chan *xmpp.Message
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		infos:     make(map[string]*xmpp.Info),
		infoErrs:  make(map[string]error),
		items:     make(map[string][]xmpp.Item),
		versions:  make(map[string]*xmpp.VersionInfo),
		avatars:   make(map[string][]byte),
		infoCalls: make(map[string]int),
		messages:  make(chan *xmpp.Message, 16),
	}
}

func (c *fakeClient) DiscoInfo(ctx context.Context, addr types.Address, fresh bool) (*xmpp.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls[addr.String()]++
	if err, ok := c.infoErrs[addr.String()]; ok {
		return nil, err
	}
	if info, ok := c.infos[addr.String()]; ok {
		return info, nil
	}
	return nil, errors.New("no response configured")
}

func (c *fakeClient) DiscoItems(ctx context.Context, addr types.Address, node string, rsm *xmpp.RSMRequest) (*xmpp.ItemsPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.items[addr.String()]
	if !ok {
		return nil, errors.New("no items configured")
	}
	return &xmpp.ItemsPage{Items: items}, nil
}

func (c *fakeClient) Version(ctx context.Context, addr types.Address) (*xmpp.VersionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.versions[addr.String()]; ok {
		return v, nil
	}
	return nil, errors.New("version query refused")
}

func (c *fakeClient) SetSoftwareVersion(name, version string) {}

func (c *fakeClient) JoinRoom(ctx context.Context, addr types.Address, nick string) (xmpp.Room, error) {
	return nil, errors.New("join not supported by fake")
}

func (c *fakeClient) FetchAvatar(ctx context.Context, addr types.Address) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if data, ok := c.avatars[addr.String()]; ok {
		return data, c.avatarMIME, nil
	}
	return nil, "", errors.New("no avatar configured")
}

func (c *fakeClient) SendMessage(ctx context.Context, msg *xmpp.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) Messages() <-chan *xmpp.Message {
	return c.messages
}

func (c *fakeClient) PubSub(service types.Address) xmpp.PubSub {
	return nil
}

func (c *fakeClient) sentMessages() []*xmpp.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*xmpp.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) infoCallCount(addr types.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoCalls[addr.String()]
}

// roomInfo builds a disco#info response for a public open room.
func roomInfo(name string, occupants int, features ...string) *xmpp.Info {
	info := &xmpp.Info{
		Identities: []xmpp.Identity{{Category: "conference", Type: "text", Name: name}},
		Features: append([]string{
			xmpp.FeatureMUC,
			xmpp.FeatureMUCPublic,
			xmpp.FeatureMUCPersistent,
			xmpp.FeatureMUCOpen,
		}, features...),
	}
	if occupants >= 0 {
		info.Forms = []xmpp.Form{{
			FormType: "result",
			Fields: []xmpp.FormField{
				{Var: "FORM_TYPE", Values: []string{xmpp.FormTypeRoomInfo}},
				{Var: xmpp.FieldRoomOccupants, Values: []string{strconv.Itoa(occupants)}},
			},
		}}
	}
	return info
}
