// Package setup wires the configured components of the crawler daemon
// together and runs them until shutdown.
package setup

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/crawler"
	"github.com/horazont/muchopper/httpapi"
	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/mirror"
	"github.com/horazont/muchopper/search"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/setup/process"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

// Supervisor owns the store and the component set selected in the
// configuration. The chat session is injected; the supervisor never
// opens network connections itself apart from the HTTP listener.
type Supervisor struct {
	cfg        *config.MUCHopper
	client     xmpp.Client
	processCtx *process.ProcessContext
	caches     *caching.Caches
	db         storage.Database
	logger     *logrus.Entry

	searchService *search.Service
}

func NewSupervisor(cfg *config.MUCHopper, client xmpp.Client, processCtx *process.ProcessContext) (*Supervisor, error) {
	caches := caching.NewRistrettoCache(cfg.Global.Metrics.Enabled)
	db, err := storage.NewDatabase(&cfg.Database, &cfg.Limits, caches)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		cfg:        cfg,
		client:     client,
		processCtx: processCtx,
		caches:     caches,
		db:         db,
		logger:     logrus.WithField("component", "supervisor"),
	}, nil
}

func (s *Supervisor) Database() storage.Database {
	return s.db
}

// SearchService is non-nil when the spokesman component is enabled; the
// wire endpoint dispatches decoded search queries to it.
func (s *Supervisor) SearchService() *search.Service {
	return s.searchService
}

// Start seeds the domain list and launches every enabled component on
// the process context. It returns once everything is running.
func (s *Supervisor) Start() error {
	ctx := s.processCtx.Context()

	if s.client != nil {
		s.client.SetSoftwareVersion(s.cfg.Global.SoftwareName, s.cfg.Global.SoftwareVersion)
	}

	for _, seed := range s.cfg.Crawler.Seed {
		addr, err := types.ParseAddress(seed)
		if err != nil {
			return err
		}
		if err := s.db.RequireDomain(ctx, addr.Domain, false); err != nil {
			return err
		}
	}

	crawling := s.cfg.Crawler.HasComponent(config.ComponentScanner) ||
		s.cfg.Crawler.HasComponent(config.ComponentInsideMan) ||
		s.cfg.Crawler.HasComponent(config.ComponentInteraction)

	var watcher *crawler.Watcher
	var analyser *crawler.Analyser
	if crawling || s.cfg.Crawler.HasComponent(config.ComponentWatcher) {
		watcher = crawler.NewWatcher(s.db, s.client, s.parseAddresses(s.cfg.Crawler.AvatarWhitelist))
	}
	if crawling {
		analyser = crawler.NewAnalyser(s.db, s.client, watcher)
		s.runComponent("analyser-shutdown", func(ctx context.Context) {
			<-ctx.Done()
			analyser.Close()
		})
	}

	// Without the watcher component the Watcher still serves its queue
	// for the analyser, but does not run periodic refresh passes.
	if s.cfg.Crawler.HasComponent(config.ComponentWatcher) {
		s.runComponent("watcher", watcher.Run)
	}
	if s.cfg.Crawler.HasComponent(config.ComponentScanner) {
		scanner := crawler.NewScanner(s.db, s.client, analyser)
		s.runComponent("scanner", scanner.Run)
	}
	if s.cfg.Crawler.HasComponent(config.ComponentInsideMan) {
		observer := crawler.NewInsideObserver(s.db, s.client, analyser, s.cfg.Crawler.Nickname)
		s.runComponent("insideman", observer.Run)
	}
	if s.cfg.Crawler.HasComponent(config.ComponentInteraction) {
		handler := crawler.NewInteractionHandler(
			s.client, analyser, s.caches,
			s.parseAddresses(s.cfg.Crawler.PrivilegedEntities),
		)
		s.runComponent("interaction", handler.Run)
	}
	if s.cfg.Crawler.HasComponent(config.ComponentSpokesman) {
		s.searchService = search.NewService(s.db)
	}
	if s.cfg.Crawler.HasComponent(config.ComponentMirrorServer) {
		service, err := types.ParseAddress(s.cfg.Mirror.Server.PubSubService)
		if err != nil {
			return err
		}
		server := mirror.NewServer(s.db, s.client, service)
		s.runComponent("mirror-server", func(ctx context.Context) {
			if err := server.Run(ctx); err != nil && ctx.Err() == nil {
				s.processCtx.Degraded(err, "mirror-server")
			}
		})
	}
	if s.cfg.Crawler.HasComponent(config.ComponentMirrorClient) {
		service, err := types.ParseAddress(s.cfg.Mirror.Client.PubSubService)
		if err != nil {
			return err
		}
		client := mirror.NewClient(s.db, s.client, service)
		s.runComponent("mirror-client", func(ctx context.Context) {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				s.processCtx.Degraded(err, "mirror-client")
			}
		})
	}
	if s.cfg.HTTP.Listen != "" {
		s.startHTTP()
	}

	s.logger.WithField("components", s.cfg.Crawler.Components).Info("Started")
	return nil
}

func (s *Supervisor) runComponent(name string, run func(context.Context)) {
	s.processCtx.ComponentStarted()
	go func() {
		defer s.processCtx.ComponentFinished()
		run(s.processCtx.Context())
		s.logger.WithField("component", name).Debug("Component finished")
	}()
}

func (s *Supervisor) startHTTP() {
	router := httpapi.NewRouter(s.db, s.cfg.Global.Metrics.Enabled)
	server := &http.Server{
		Addr:         s.cfg.HTTP.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.runComponent("httpapi", func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		s.logger.WithField("listen", s.cfg.HTTP.Listen).Info("HTTP listener starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.processCtx.Degraded(err, "httpapi")
		}
	})
}

// parseAddresses converts pre-validated configuration entries; entries
// that fail to parse were already rejected by config verification.
func (s *Supervisor) parseAddresses(raw []string) []types.Address {
	var addrs []types.Address
	for _, entry := range raw {
		addr, err := types.ParseAddress(entry)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}
