package handler

import (
	"errors"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"carshare/internal/domain"
)

const (
	actorTypeHeader = "X-Actor-Type"
	actorIDHeader   = "X-Actor-ID"
)

var (
	errMalformedBody = errors.New("malformed request body")
	errMissingActor  = errors.New("missing or invalid actor headers")
)

// actorFrom reads the caller identity set by the upstream gateway. The system
// actor is reserved for the sweep and cannot be claimed over HTTP.
func actorFrom(c *gin.Context) (domain.Actor, error) {
	actor := domain.Actor{
		Type: domain.ActorType(c.GetHeader(actorTypeHeader)),
		ID:   c.GetHeader(actorIDHeader),
	}
	if actor.ID == "" {
		return domain.Actor{}, errMissingActor
	}
	switch actor.Type {
	case domain.ActorGuest, domain.ActorHost, domain.ActorFleet, domain.ActorOperator:
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: unknown actor type %q", errMissingActor, actor.Type)
}

// bindJSON decodes the request body into dst.
func bindJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}
