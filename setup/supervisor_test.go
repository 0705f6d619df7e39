package setup

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/setup/process"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

// stubClient satisfies xmpp.Client for wiring tests; every query fails
// as if the remote were unreachable.
type stubClient struct {
	advertisedName    string
	advertisedVersion string
}

var errStubOffline = errors.New("stub client is offline")

func (c *stubClient) SetSoftwareVersion(name, version string) {
	c.advertisedName = name
	c.advertisedVersion = version
}

func (stubClient) DiscoInfo(context.Context, types.Address, bool) (*xmpp.Info, error) {
	return nil, errStubOffline
}

func (stubClient) DiscoItems(context.Context, types.Address, string, *xmpp.RSMRequest) (*xmpp.ItemsPage, error) {
	return nil, errStubOffline
}

func (stubClient) Version(context.Context, types.Address) (*xmpp.VersionInfo, error) {
	return nil, errStubOffline
}

func (stubClient) JoinRoom(context.Context, types.Address, string) (xmpp.Room, error) {
	return nil, errStubOffline
}

func (stubClient) FetchAvatar(context.Context, types.Address) ([]byte, string, error) {
	return nil, "", errStubOffline
}

func (stubClient) SendMessage(context.Context, *xmpp.Message) error {
	return errStubOffline
}

func (stubClient) Messages() <-chan *xmpp.Message {
	return nil
}

func (stubClient) PubSub(types.Address) xmpp.PubSub {
	return nil
}

func testConfig(components ...config.ComponentName) *config.MUCHopper {
	cfg := &config.MUCHopper{}
	cfg.Database.ConnectionString = config.DataSource("file::memory:")
	cfg.Crawler.Components = components
	cfg.Defaults()
	return cfg
}

func TestSupervisor_StartsConfiguredComponentsAndShutsDown(t *testing.T) {
	cfg := testConfig(
		config.ComponentWatcher, config.ComponentScanner,
		config.ComponentInsideMan, config.ComponentInteraction,
		config.ComponentSpokesman,
	)
	cfg.Crawler.Seed = []string{"search.example.net"}

	client := &stubClient{}
	processCtx := process.NewProcessContext()
	supervisor, err := NewSupervisor(cfg, client, processCtx)
	require.NoError(t, err)
	require.NoError(t, supervisor.Start())

	assert.NotNil(t, supervisor.SearchService())
	assert.Equal(t, "muchopper", client.advertisedName)
	assert.Equal(t, config.Version, client.advertisedVersion)

	domains, err := supervisor.Database().GetScannableDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	assert.Equal(t, "search.example.net", domains[0].Domain)
	assert.Nil(t, domains[0].LastSeen, "seeded domains start unseen")

	processCtx.ShutdownGracefully()
	finished := make(chan struct{})
	go func() {
		processCtx.WaitForComponentsToFinish()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("components did not shut down")
	}
}

func TestSupervisor_SpokesmanOnlyHasNoSearchUntilStarted(t *testing.T) {
	cfg := testConfig(config.ComponentSpokesman)

	processCtx := process.NewProcessContext()
	supervisor, err := NewSupervisor(cfg, &stubClient{}, processCtx)
	require.NoError(t, err)
	assert.Nil(t, supervisor.SearchService())

	require.NoError(t, supervisor.Start())
	assert.NotNil(t, supervisor.SearchService())

	processCtx.ShutdownGracefully()
	processCtx.WaitForComponentsToFinish()
}

func TestSupervisor_RejectsUnparseableSeed(t *testing.T) {
	cfg := testConfig()
	cfg.Crawler.Seed = []string{"not a domain"}

	processCtx := process.NewProcessContext()
	supervisor, err := NewSupervisor(cfg, &stubClient{}, processCtx)
	require.NoError(t, err)
	assert.Error(t, supervisor.Start())
}
