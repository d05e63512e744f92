package content

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/store"
)

type postInput struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

var postBoolFields = []string{"published"}

func (h *Handler) ListPosts(c *fiber.Ctx) error {
	rows, err := h.listRows(c.Context(), "posts", postBoolFields)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"posts": rows})
}

func (h *Handler) GetPost(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	return c.JSON(row)
}

func (h *Handler) CreatePost(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var in postInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Title == "" {
		return BadRequestError("title is required")
	}

	id := newID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO posts (id, user_id, title, body, published)
		 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(user.ID), pb.Add(in.Title), pb.Add(in.Body), pb.Add(false)),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err := h.fetchRow(c.Context(), "posts", "post", id, postBoolFields)
	if err != nil {
		return err
	}
	h.notify("post.created", row)
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *Handler) UpdatePost(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}

	var in postInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Title != "" {
		row["title"] = in.Title
	}
	if in.Body != "" {
		row["body"] = in.Body
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE posts SET title = %s, body = %s, updated_at = %s WHERE id = %s`,
			pb.Add(row["title"]), pb.Add(row["body"]),
			h.store.Dialect.NowExpr(), pb.Add(row["id"])),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err = h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	h.notify("post.updated", row)
	return c.JSON(row)
}

// PublishPost flips a draft post live. Publishing an already-published post is
// a no-op that returns the current row without emitting events.
func (h *Handler) PublishPost(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}
	if published, _ := row["published"].(bool); published {
		return c.JSON(row)
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE posts SET published = %s, published_at = %s, updated_at = %s WHERE id = %s`,
			pb.Add(true), pb.Add(nowUTC()), h.store.Dialect.NowExpr(), pb.Add(row["id"])),
		pb.Params()...)
	if err != nil {
		return err
	}

	row, err = h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	h.notify("post.published", row)
	return c.JSON(row)
}

func (h *Handler) DeletePost(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "posts", "post", c.Params("id"), postBoolFields)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}
	if err := h.deleteRow(c.Context(), "posts", c.Params("id")); err != nil {
		return err
	}
	h.notify("post.deleted", row)
	return c.JSON(fiber.Map{"deleted": row["id"]})
}
