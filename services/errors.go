package services

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"squad-match-service/logger"
)

// Error kinds surfaced to callers. Services wrap these with context; the
// HTTP boundary maps them to a status code once.
var (
	ErrInvalidParams    = eris.New("invalid parameters")
	ErrNotFound         = eris.New("not found")
	ErrConflict         = eris.New("conflict")
	ErrQueueUnavailable = eris.New("match queue unavailable")
	ErrInsufficientBots = eris.New("not enough bot profiles available")
	ErrAlreadyLinked    = eris.New("squad already has an opponent")

	errorKinds = []error{ErrInvalidParams, ErrNotFound, ErrConflict, ErrQueueUnavailable, ErrInsufficientBots}
)

// StatusFor maps an error to the HTTP status returned to the caller.
func StatusFor(err error) int {
	switch {
	case eris.Is(err, ErrInvalidParams):
		return fiber.StatusBadRequest
	case eris.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case eris.Is(err, ErrConflict):
		return fiber.StatusConflict
	case eris.Is(err, ErrQueueUnavailable), eris.Is(err, ErrInsufficientBots):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// notFound converts gorm's missing-row error into ErrNotFound and wraps
// anything else as a store error.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return eris.Wrapf(ErrNotFound, "%s not found", what)
	}
	return eris.Wrapf(err, "failed to load %s", what)
}

// errorMessage is the caller-facing text: the outermost message for kinds
// we expose, a generic one for store failures.
func errorMessage(err error, fallback string) string {
	if StatusFor(err) == fiber.StatusInternalServerError {
		return fallback
	}
	msg := err.Error()
	for _, kind := range errorKinds {
		if eris.Is(err, kind) && msg != kind.Error() {
			return strings.TrimSuffix(msg, ": "+kind.Error())
		}
	}
	return msg
}

// respondError logs at the handler boundary and writes {error}.
func respondError(c *fiber.Ctx, tag string, err error, fallback string) error {
	status := StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Log.Errorw(tag+" request failed", "path", c.Path(), "status", status, "error", eris.ToString(err, true))
	} else {
		logger.Log.Warnw(tag+" request rejected", "path", c.Path(), "status", status, "error", err.Error())
	}
	return c.Status(status).JSON(fiber.Map{"error": errorMessage(err, fallback)})
}
