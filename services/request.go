package services

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"squad-match-service/utils"
)

// parseBody decodes the JSON body into req and runs its validate tags.
// A userId left out of the body is taken from the gateway identity.
func parseBody(c *fiber.Ctx, req interface{ setCaller(string) }) error {
	if err := c.BodyParser(req); err != nil {
		return eris.Wrap(ErrInvalidParams, "invalid JSON body")
	}
	if id := localUserID(c); id != "" {
		req.setCaller(id)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return eris.Wrap(ErrInvalidParams, err.Error())
	}
	return nil
}

// localUserID is the identity attached by the auth middleware, if any.
func localUserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return strings.TrimSpace(id)
}

func fillCaller(dst *string, id string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = id
	}
}
