package migration

import (
	"embed"

	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	eventdomain "github.com/smallbiznis/boxoffice/internal/event/domain"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	organizerdomain "github.com/smallbiznis/boxoffice/internal/organizer/domain"
	ticketingdomain "github.com/smallbiznis/boxoffice/internal/ticketing/domain"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the service owns, for dialects without SQL
// migrations.
func Models() []any {
	return []any{
		&eventdomain.Event{},
		&organizerdomain.PayoutAccount{},
		&ticketingdomain.TicketGroup{},
		&ticketingdomain.TicketNumber{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&auditdomain.AuditLog{},
	}
}
