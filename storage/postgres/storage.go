package postgres

import (
	"database/sql"

	// postgres driver
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/storage/shared"
)

// NewDatabase opens a postgres database and creates the schema.
func NewDatabase(dbProperties *config.DatabaseOptions, limits *config.Limits) (*shared.Database, error) {
	db, writer, err := sqlutil.Open(dbProperties)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	d, err := newTables(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare tables")
	}
	d.DB = db
	d.Writer = writer
	d.Limits = *limits
	d.Init()
	return d, nil
}

func newTables(db *sql.DB) (*shared.Database, error) {
	// every schema must exist before any statement is prepared: several
	// statements join tables owned by another constructor
	for _, create := range []func(*sql.DB) error{
		CreateDomainsTable,
		CreateDomainIdentitiesTable,
		CreateDomainContactsTable,
		CreateRoomsTable,
		CreatePublicRoomsTable,
		CreateAvatarsTable,
		CreateTagsTable,
		CreateReferralsTable,
	} {
		if err := create(db); err != nil {
			return nil, err
		}
	}
	domains, err := PrepareDomainsTable(db)
	if err != nil {
		return nil, err
	}
	identities, err := PrepareDomainIdentitiesTable(db)
	if err != nil {
		return nil, err
	}
	contacts, err := PrepareDomainContactsTable(db)
	if err != nil {
		return nil, err
	}
	rooms, err := PrepareRoomsTable(db)
	if err != nil {
		return nil, err
	}
	publicRooms, err := PreparePublicRoomsTable(db)
	if err != nil {
		return nil, err
	}
	avatars, err := PrepareAvatarsTable(db)
	if err != nil {
		return nil, err
	}
	tags, err := PrepareTagsTable(db)
	if err != nil {
		return nil, err
	}
	referrals, err := PrepareReferralsTable(db)
	if err != nil {
		return nil, err
	}
	return &shared.Database{
		Domains:          domains,
		DomainIdentities: identities,
		DomainContacts:   contacts,
		Rooms:            rooms,
		PublicRooms:      publicRooms,
		Avatars:          avatars,
		Tags:             tags,
		Referrals:        referrals,
	}, nil
}
