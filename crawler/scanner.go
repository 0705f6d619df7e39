package crawler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/internal/workerpool"
	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

const (
	scannerWorkers  = 8
	scannerInterval = time.Hour
	scannerTimeout  = 60 * time.Second
	scannerDelay    = 100 * time.Millisecond

	// Domains not seen for this long are dropped (delisted domains are
	// kept so they stay blocked).
	domainExpireAfter = 7 * 24 * time.Hour

	// Domains without a chat service identity are only re-probed this
	// often.
	nonChatRescanDelay = 6 * time.Hour

	// Some deployments truncate or misbehave with larger pages.
	itemsPageSize = 100

	// Defensive cap on paging through a single domain's item list.
	maxItemPages = 500
)

// The Scanner walks all known service domains, reconciles their
// identities and software version, and enumerates their items: rooms
// are handed to the analyser, newly discovered domains are recorded
// for future passes.
type Scanner struct {
	db       storage.Database
	client   xmpp.Client
	analyser *Analyser
	logger   *logrus.Entry
	pool     *workerpool.Pool[tables.ScannableDomain]
}

func NewScanner(db storage.Database, client xmpp.Client, analyser *Analyser) *Scanner {
	s := &Scanner{
		db:       db,
		client:   client,
		analyser: analyser,
		logger:   logrus.WithField("component", "scanner"),
	}
	s.pool = workerpool.New(workerpool.Config{
		Workers:   scannerWorkers,
		QueueSize: scannerWorkers,
		Timeout:   scannerTimeout,
		Delay:     scannerDelay,
		Name:      "scanner",
		Logger:    s.logger,
	}, s.processDomain)
	return s
}

// Run scans all domains once per interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	defer s.pool.Close(false)
	runPeriodically(ctx, s.logger, "scanner", scannerInterval, s.pass)
}

func (s *Scanner) pass(ctx context.Context) error {
	domains, err := s.db.GetScannableDomains(ctx)
	if err != nil {
		return err
	}
	rand.Shuffle(len(domains), func(i, j int) {
		domains[i], domains[j] = domains[j], domains[i]
	})
	s.logger.WithField("domains", len(domains)).Debug("Starting pass")

	// Enqueue tracks each queued item on the batch itself
	var batch sync.WaitGroup
	for _, domain := range domains {
		if err := s.pool.Enqueue(ctx, domain, &batch); err != nil {
			return err
		}
	}
	batch.Wait()

	threshold := time.Now().UTC().Add(-domainExpireAfter)
	return s.db.ExpireDomains(ctx, threshold)
}

func (s *Scanner) processDomain(ctx context.Context, domain tables.ScannableDomain) error {
	logger := s.logger.WithField("domain", domain.Domain)

	if !domain.IsChatService && domain.LastSeen != nil &&
		domain.LastSeen.After(time.Now().UTC().Add(-nonChatRescanDelay)) {
		logger.Debug("Not a chat service and probed recently, skipping")
		return nil
	}

	addr := types.DomainAddress(domain.Domain)
	info, err := s.client.DiscoInfo(ctx, addr, false)
	if err != nil {
		domainsScannedTotal.WithLabelValues(domainScanFailed).Inc()
		logger.WithError(err).Info("Failed to query service info")
		return nil
	}

	// best-effort; many deployments block version queries
	var software *types.SoftwareInfo
	if version, err := s.client.Version(ctx, addr); err == nil {
		software = &types.SoftwareInfo{
			Name:    version.Name,
			Version: version.Version,
			OS:      version.OS,
		}
	} else {
		logger.WithError(err).Debug("Failed to query software version")
	}

	upd := &types.DomainUpdate{
		Identities: make([][2]string, 0, len(info.Identities)),
		Software:   software,
	}
	for _, identity := range info.Identities {
		upd.Identities = append(upd.Identities, [2]string{identity.Category, identity.Type})
	}
	if serverInfo := info.Form(xmpp.FormTypeServerInfo); serverInfo != nil {
		upd.AbuseContacts = serverInfo.ValuesOf(xmpp.FieldAbuseAddresses)
	}
	if err := s.db.UpdateDomain(ctx, domain.Domain, upd); err != nil {
		return err
	}

	if info.HasFeature(xmpp.FeatureMUC) {
		domainsScannedTotal.WithLabelValues(domainScanMUC).Inc()
		return s.scanChatService(ctx, logger, addr, info.HasFeature(xmpp.NSResultSetManagement))
	}
	domainsScannedTotal.WithLabelValues(domainScanOther).Inc()
	return s.scanOtherDomain(ctx, logger, addr)
}

// scanChatService enumerates the rooms of a chat service and suggests
// unknown ones to the analyser. Bare-domain items are drive-by domain
// finds and recorded for the next pass.
func (s *Scanner) scanChatService(ctx context.Context, logger *logrus.Entry, addr types.Address, paged bool) error {
	total := 0
	err := s.listItems(ctx, addr, paged, func(item xmpp.Item) error {
		total++
		if item.Address.IsBareDomain() {
			return s.db.RequireDomain(ctx, item.Address.Domain, true)
		}
		known, err := s.db.GetAddressMetadata(ctx, item.Address)
		if err != nil {
			return err
		}
		if known != nil {
			return nil
		}
		return s.analyser.Suggest(ctx, Candidate{
			Address:    item.Address,
			Privileged: true,
		})
	})
	logger.WithField("items", total).Debug("Enumerated chat service")
	return err
}

// scanOtherDomain only harvests further domains from a non-chat
// service's item list. The backdated stamp keeps freshly found domains
// from being probed again within the same pass.
func (s *Scanner) scanOtherDomain(ctx context.Context, logger *logrus.Entry, addr types.Address) error {
	page, err := s.client.DiscoItems(ctx, addr, "", nil)
	if err != nil {
		logger.WithError(err).Debug("Failed to enumerate items")
		return nil
	}
	seenAt := time.Now().UTC().Add(-nonChatRescanDelay)
	for _, item := range page.Items {
		if item.Node != "" || !item.Address.IsBareDomain() {
			continue
		}
		logger.WithField("found", item.Address.Domain).Debug("Discovered domain")
		if err := s.db.RequireDomainSeenAt(ctx, item.Address.Domain, seenAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) listItems(ctx context.Context, addr types.Address, paged bool, visit func(item xmpp.Item) error) error {
	if !paged {
		page, err := s.client.DiscoItems(ctx, addr, "", nil)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := visit(item); err != nil {
				return err
			}
		}
		return nil
	}

	pageSize := itemsPageSize
	after := ""
	for pages := 0; pages < maxItemPages; pages++ {
		page, err := s.client.DiscoItems(ctx, addr, "", &xmpp.RSMRequest{
			Max:   &pageSize,
			After: after,
		})
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := visit(item); err != nil {
				return err
			}
		}
		if page.Complete() || len(page.Items) < pageSize {
			return nil
		}
		after = page.RSM.Last
	}
	return nil
}
