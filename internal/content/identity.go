package content

import "github.com/gofiber/fiber/v2"

// Identity is the resolved caller identity attached to a request or connection.
// A nil Identity means the caller is anonymous.
type Identity struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// IsAdmin reports whether the identity carries the admin role.
func (u *Identity) IsAdmin() bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// GetUser extracts the Identity set by the auth middleware, or nil.
func GetUser(c *fiber.Ctx) *Identity {
	user, _ := c.Locals("user").(*Identity)
	return user
}
