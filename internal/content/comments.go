package content

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/store"
)

type commentInput struct {
	TaskID string `json:"task_id"`
	Body   string `json:"body"`
}

func (h *Handler) ListComments(c *fiber.Ctx) error {
	taskID := c.Query("task_id")

	query := `SELECT * FROM comments`
	pb := h.store.Dialect.NewParamBuilder()
	if taskID != "" {
		query += fmt.Sprintf(` WHERE task_id = %s`, pb.Add(taskID))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := store.QueryRows(c.Context(), h.store.DB, query, pb.Params()...)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"comments": rows})
}

func (h *Handler) GetComment(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "comments", "comment", c.Params("id"), nil)
	if err != nil {
		return err
	}
	return c.JSON(row)
}

func (h *Handler) CreateComment(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var in commentInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.TaskID == "" {
		return BadRequestError("task_id is required")
	}
	if in.Body == "" {
		return BadRequestError("body is required")
	}
	if _, err := h.fetchRow(c.Context(), "tasks", "task", in.TaskID, nil); err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return BadRequestError("task_id does not reference an existing task")
		}
		return err
	}

	id := newID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO comments (id, user_id, task_id, body)
		 VALUES (%s, %s, %s, %s)`,
			pb.Add(id), pb.Add(user.ID), pb.Add(in.TaskID), pb.Add(in.Body)),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err := h.fetchRow(c.Context(), "comments", "comment", id, nil)
	if err != nil {
		return err
	}
	h.notify("comment.created", row)
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *Handler) UpdateComment(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "comments", "comment", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}

	var in commentInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Body == "" {
		return BadRequestError("body is required")
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE comments SET body = %s, updated_at = %s WHERE id = %s`,
			pb.Add(in.Body), h.store.Dialect.NowExpr(), pb.Add(row["id"])),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err = h.fetchRow(c.Context(), "comments", "comment", c.Params("id"), nil)
	if err != nil {
		return err
	}
	h.notify("comment.updated", row)
	return c.JSON(row)
}

func (h *Handler) DeleteComment(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "comments", "comment", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}
	if err := h.deleteRow(c.Context(), "comments", c.Params("id")); err != nil {
		return err
	}
	h.notify("comment.deleted", row)
	return c.JSON(fiber.Map{"deleted": row["id"]})
}
