package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/boxoffice/internal/authorization"
	obscontext "github.com/smallbiznis/boxoffice/internal/observability/context"
)

// Identity is established by the edge proxy, which forwards it in these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired resolves the calling actor from the forwarded identity headers.
func ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := authorization.ParseRole(c.GetHeader(HeaderActorRole))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := authorization.Actor{Role: role}
		if raw := strings.TrimSpace(c.GetHeader(HeaderActorID)); raw != "" {
			id, err := snowflake.ParseString(raw)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			actor.ID = id
		} else if role != authorization.RoleSystem {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextActorKey, actor)
		actorID := ""
		if actor.ID != 0 {
			actorID = actor.ID.String()
		}
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), actorID, string(role)))
		c.Next()
	}
}

func actorFrom(c *gin.Context) authorization.Actor {
	if value, ok := c.Get(contextActorKey); ok {
		if actor, ok := value.(authorization.Actor); ok {
			return actor
		}
	}
	return authorization.Actor{}
}

// authorizeAction gates routes whose target has no owner, e.g. batch payouts.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), action, authorization.Resource{Object: object})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func parseIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		return 0, newValidationError("id", "invalid_id", "invalid id")
	}
	return id, nil
}
