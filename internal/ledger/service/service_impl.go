package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"github.com/smallbiznis/boxoffice/internal/clock"
	ledgerdomain "github.com/smallbiznis/boxoffice/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/boxoffice/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Post(ctx context.Context, entry ledgerdomain.Entry) (bool, error) {
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.PostTx(ctx, tx, entry)
		return err
	})
	return inserted, err
}

func (s *Service) PostTx(ctx context.Context, tx *gorm.DB, entry ledgerdomain.Entry) (bool, error) {
	normalized, err := normalizeEntry(entry)
	if err != nil {
		return false, err
	}

	now := s.clock.Now().UTC()
	header := ledgerdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		OrganizerID: normalized.OrganizerID,
		SourceType:  normalized.SourceType,
		SourceID:    normalized.SourceID,
		Currency:    normalized.Currency,
		OccurredAt:  normalized.OccurredAt.UTC(),
		CreatedAt:   now,
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(&header)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("ledger entry already posted",
			zap.String("source_type", string(normalized.SourceType)),
			zap.String("source_id", normalized.SourceID),
		)
		return false, nil
	}

	lines := make([]ledgerdomain.LedgerEntryLine, 0, len(normalized.Lines))
	for _, line := range normalized.Lines {
		if line.Amount == 0 {
			continue
		}
		lines = append(lines, ledgerdomain.LedgerEntryLine{
			ID:            s.genID.Generate(),
			LedgerEntryID: header.ID,
			AccountCode:   line.Account,
			Direction:     line.Direction,
			Amount:        line.Amount,
			CreatedAt:     now,
		})
	}
	if len(lines) > 0 {
		if err := tx.WithContext(ctx).Create(&lines).Error; err != nil {
			return false, err
		}
	}

	if s.auditSvc != nil {
		entryID := header.ID.String()
		metadata := map[string]any{
			"source_type":     string(normalized.SourceType),
			"source_id":       normalized.SourceID,
			"ledger_entry_id": entryID,
			"currency":        normalized.Currency,
		}
		err := s.auditSvc.RecordTx(ctx, tx, auditdomain.Entry{
			ActorType: auditdomain.ActorTypeSystem,
			Action:    "ledger.entry_created",
			Target:    auditdomain.Target{Type: auditdomain.TargetLedgerEntry, ID: entryID},
			Metadata:  metadata,
		})
		if err != nil {
			s.log.Warn("failed to write ledger audit log", zap.Error(err))
		}
	}

	s.obsMetrics.RecordJournalEntry(ctx, string(normalized.SourceType))
	return true, nil
}

func (s *Service) Balance(ctx context.Context, organizerID snowflake.ID, account ledgerdomain.LedgerAccountCode, currency string) (int64, error) {
	var row struct {
		Credit int64
		Debit  int64
	}
	err := s.db.WithContext(ctx).
		Table("ledger_entry_lines AS l").
		Select(
			"COALESCE(SUM(CASE WHEN l.direction = ? THEN l.amount ELSE 0 END), 0) AS credit, "+
				"COALESCE(SUM(CASE WHEN l.direction = ? THEN l.amount ELSE 0 END), 0) AS debit",
			ledgerdomain.LedgerEntryDirectionCredit,
			ledgerdomain.LedgerEntryDirectionDebit,
		).
		Joins("JOIN ledger_entries e ON e.id = l.ledger_entry_id").
		Where("e.organizer_id = ? AND e.currency = ? AND l.account_code = ?", organizerID, strings.ToUpper(strings.TrimSpace(currency)), account).
		Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Credit - row.Debit, nil
}

func normalizeEntry(entry ledgerdomain.Entry) (ledgerdomain.Entry, error) {
	entry.SourceType = ledgerdomain.LedgerSourceType(strings.TrimSpace(string(entry.SourceType)))
	switch entry.SourceType {
	case ledgerdomain.SourceTypeTicketSale, ledgerdomain.SourceTypeTicketRefund, ledgerdomain.SourceTypeOrganizerPayout:
	default:
		return entry, ledgerdomain.ErrInvalidSourceType
	}

	entry.SourceID = strings.TrimSpace(entry.SourceID)
	if entry.SourceID == "" {
		return entry, ledgerdomain.ErrInvalidSourceID
	}
	entry.Currency = strings.ToUpper(strings.TrimSpace(entry.Currency))
	if entry.Currency == "" {
		return entry, ledgerdomain.ErrInvalidCurrency
	}
	if entry.OccurredAt.IsZero() {
		return entry, ledgerdomain.ErrInvalidOccurredAt
	}
	if len(entry.Lines) < 2 {
		return entry, ledgerdomain.ErrInvalidEntryLines
	}

	lines := make([]ledgerdomain.Line, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		if strings.TrimSpace(string(line.Account)) == "" {
			return entry, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return entry, err
		}
		if line.Amount < 0 {
			return entry, ledgerdomain.ErrInvalidLineAmount
		}
		lines = append(lines, ledgerdomain.Line{Account: line.Account, Direction: direction, Amount: line.Amount})
	}
	if err := ledgerdomain.ValidateBalanced(lines); err != nil {
		return entry, err
	}
	entry.Lines = lines
	return entry, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
