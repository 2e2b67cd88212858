package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/boxoffice/internal/audit/domain"
	"github.com/smallbiznis/boxoffice/internal/audit/masking"
	"github.com/smallbiznis/boxoffice/internal/clock"
	obscontext "github.com/smallbiznis/boxoffice/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxListLimit = 100

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	return s.RecordTx(ctx, s.db, entry)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.Target.Type)
	if targetType == "" {
		return auditdomain.ErrInvalidTarget
	}

	metadata := masking.MaskSensitive(entry.Metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	actorType, actorID := resolveActor(ctx, entry)
	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.Target.ID),
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, tx, &row); err != nil {
		s.log.Warn("audit.write_failed", zap.String("action", action), zap.String("target_type", targetType), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) ListByTarget(ctx context.Context, target auditdomain.Target, limit int) ([]auditdomain.AuditLog, error) {
	target.Type, target.ID = strings.TrimSpace(target.Type), strings.TrimSpace(target.ID)
	if target.Type == "" || target.ID == "" {
		return nil, auditdomain.ErrInvalidTarget
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByTarget(ctx, s.db, target, limit)
}

func resolveActor(ctx context.Context, entry auditdomain.Entry) (auditdomain.ActorType, string) {
	if entry.ActorType != "" {
		return entry.ActorType, entry.ActorID
	}
	if id, role := obscontext.ActorFromContext(ctx); role != "" {
		return auditdomain.ActorType(role), id
	}
	return auditdomain.ActorTypeSystem, entry.ActorID
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
