package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/boxoffice/internal/apperror"
	"gorm.io/gorm"
)

const (
	TargetTicketGroup = "ticket_group"
	TargetLedgerEntry = "ledger_entry"
)

// Target names the record an action changed.
type Target struct {
	Type string
	ID   string
}

func TicketGroup(id snowflake.ID) Target {
	return Target{Type: TargetTicketGroup, ID: id.String()}
}

// Entry is one state-changing action. An empty ActorType is taken from the
// request context, falling back to system.
type Entry struct {
	ActorType ActorType
	ActorID   string
	Action    string
	Target    Target
	Metadata  map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, target Target, limit int) ([]AuditLog, error)
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	// RecordTx writes the row inside the caller's transaction so it commits
	// or rolls back with the change it describes.
	RecordTx(ctx context.Context, tx *gorm.DB, entry Entry) error
	ListByTarget(ctx context.Context, target Target, limit int) ([]AuditLog, error)
}

var (
	ErrInvalidAction = apperror.Validation("audit_invalid_action")
	ErrInvalidTarget = apperror.Validation("audit_invalid_target")
)
