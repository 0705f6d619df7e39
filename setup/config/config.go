package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/horazont/muchopper/types"
)

// Version is the release version advertised by default.
const Version = "0.1.0"

// MUCHopper is the root configuration of the crawler daemon.
type MUCHopper struct {
	Global   Global          `yaml:"global"`
	Database DatabaseOptions `yaml:"database"`
	Crawler  Crawler         `yaml:"crawler"`
	Limits   Limits          `yaml:"limits"`
	Mirror   Mirror          `yaml:"mirror"`
	HTTP     HTTP            `yaml:"http"`
}

type Global struct {
	// LogLevel is a logrus level name; defaults to "info".
	LogLevel string `yaml:"log_level"`

	// SoftwareName and SoftwareVersion are advertised by the chat
	// session's version responder.
	SoftwareName    string `yaml:"software_name"`
	SoftwareVersion string `yaml:"software_version"`

	Sentry  Sentry  `yaml:"sentry"`
	Metrics Metrics `yaml:"metrics"`
}

// Sentry configures crash reporting. Disabled by default.
type Sentry struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// ComponentName selects a crawler component to run.
type ComponentName string

const (
	ComponentWatcher      ComponentName = "watcher"
	ComponentScanner      ComponentName = "scanner"
	ComponentInsideMan    ComponentName = "insideman"
	ComponentInteraction  ComponentName = "interaction"
	ComponentSpokesman    ComponentName = "spokesman"
	ComponentMirrorServer ComponentName = "mirror-server"
	ComponentMirrorClient ComponentName = "mirror-client"
)

type Crawler struct {
	// Components to enable. A mirror-client instance claims exclusive
	// write access to the store and must not be combined with the
	// crawling components.
	Components []ComponentName `yaml:"components"`

	// Seed domains are inserted with last_seen = NULL at startup so the
	// scanner picks them up on its first pass.
	Seed []string `yaml:"seed"`

	// PrivilegedEntities may suggest addresses that bypass the minimum
	// user count heuristics.
	PrivilegedEntities []string `yaml:"privileged_entities"`

	// AvatarWhitelist lists room or domain addresses whose avatars the
	// watcher fetches and stores.
	AvatarWhitelist []string `yaml:"avatar_whitelist"`

	// Nickname used when joining rooms. Defaults to "muchopper".
	Nickname string `yaml:"nickname"`
}

// HasComponent reports whether name is enabled.
func (c *Crawler) HasComponent(name ComponentName) bool {
	for _, component := range c.Components {
		if component == name {
			return true
		}
	}
	return false
}

type Limits struct {
	MaxNameLength        int `yaml:"max_name_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`
	MaxSubjectLength     int `yaml:"max_subject_length"`
	MaxLanguageLength    int `yaml:"max_language_length"`
}

type Mirror struct {
	Server MirrorPeer `yaml:"server"`
	Client MirrorPeer `yaml:"client"`
}

type MirrorPeer struct {
	// PubSubService is the address of the pub/sub service carrying the
	// room catalogue node.
	PubSubService string `yaml:"pubsub_service"`
}

type HTTP struct {
	// Listen address of the read-only JSON API, e.g. "localhost:8087".
	// Empty disables the listener.
	Listen string `yaml:"listen"`
}

// DataSource is a database connection string: a postgres:// URI or a
// file: URI for SQLite.
type DataSource string

func (d DataSource) IsSQLite() bool {
	return len(d) >= 5 && d[:5] == "file:"
}

func (d DataSource) IsPostgres() bool {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if len(d) >= len(prefix) && string(d[:len(prefix)]) == prefix {
			return true
		}
	}
	return false
}

type DatabaseOptions struct {
	ConnectionString DataSource `yaml:"connection_string"`
	// MaxOpenConnections is ignored for SQLite, which is limited to a
	// single connection.
	MaxOpenConnections int           `yaml:"max_open_conns"`
	MaxIdleConnections int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"conn_max_lifetime"`
}

// Defaults fills in zero-valued fields.
func (c *MUCHopper) Defaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if c.Global.SoftwareName == "" {
		c.Global.SoftwareName = "muchopper"
	}
	if c.Global.SoftwareVersion == "" {
		c.Global.SoftwareVersion = Version
	}
	if c.Crawler.Nickname == "" {
		c.Crawler.Nickname = "muchopper"
	}
	if c.Limits.MaxNameLength == 0 {
		c.Limits.MaxNameLength = 100
	}
	if c.Limits.MaxDescriptionLength == 0 {
		c.Limits.MaxDescriptionLength = 400
	}
	if c.Limits.MaxSubjectLength == 0 {
		c.Limits.MaxSubjectLength = 200
	}
	if c.Limits.MaxLanguageLength == 0 {
		c.Limits.MaxLanguageLength = 32
	}
	if c.Database.MaxOpenConnections == 0 {
		c.Database.MaxOpenConnections = 10
	}
	if c.Database.MaxIdleConnections == 0 {
		c.Database.MaxIdleConnections = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = -time.Second
	}
}

// Verify checks the configuration for errors.
func (c *MUCHopper) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "database.connection_string", string(c.Database.ConnectionString))
	if !c.Database.ConnectionString.IsSQLite() && !c.Database.ConnectionString.IsPostgres() {
		configErrs.Add("database.connection_string must be a postgres:// or file: URI")
	}

	known := map[ComponentName]bool{
		ComponentWatcher: true, ComponentScanner: true, ComponentInsideMan: true,
		ComponentInteraction: true, ComponentSpokesman: true,
		ComponentMirrorServer: true, ComponentMirrorClient: true,
	}
	for _, component := range c.Crawler.Components {
		if !known[component] {
			configErrs.Add(fmt.Sprintf("unknown component %q", component))
		}
	}
	if c.Crawler.HasComponent(ComponentMirrorClient) {
		for _, conflicting := range []ComponentName{
			ComponentWatcher, ComponentScanner, ComponentInsideMan, ComponentInteraction,
		} {
			if c.Crawler.HasComponent(conflicting) {
				configErrs.Add(fmt.Sprintf(
					"component mirror-client claims exclusive store access and cannot be combined with %q",
					conflicting,
				))
			}
		}
		checkNotEmpty(configErrs, "mirror.client.pubsub_service", c.Mirror.Client.PubSubService)
	}
	if c.Crawler.HasComponent(ComponentMirrorServer) {
		checkNotEmpty(configErrs, "mirror.server.pubsub_service", c.Mirror.Server.PubSubService)
	}
	if c.Global.Sentry.Enabled {
		checkNotEmpty(configErrs, "global.sentry.dsn", c.Global.Sentry.DSN)
	}
	for i, seed := range c.Crawler.Seed {
		if _, err := types.ParseAddress(seed); err != nil {
			configErrs.Add(fmt.Sprintf("crawler.seed[%d]: %v", i, err))
		}
	}
	for i, entity := range c.Crawler.PrivilegedEntities {
		if _, err := types.ParseAddress(entity); err != nil {
			configErrs.Add(fmt.Sprintf("crawler.privileged_entities[%d]: %v", i, err))
		}
	}
	for i, entry := range c.Crawler.AvatarWhitelist {
		if _, err := types.ParseAddress(entry); err != nil {
			configErrs.Add(fmt.Sprintf("crawler.avatar_whitelist[%d]: %v", i, err))
		}
	}
}

// Load reads, defaults and verifies a configuration file.
func Load(path string) (*MUCHopper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadConfig(data)
}

func loadConfig(data []byte) (*MUCHopper, error) {
	var c MUCHopper
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.Defaults()
	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if len(configErrs) > 0 {
		return nil, configErrs
	}
	return &c, nil
}

// ConfigErrors collects problems found while verifying the configuration.
type ConfigErrors []string

func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf("%s (and %d other problems)", errs[0], len(errs)-1)
}

func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}
