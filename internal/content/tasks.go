package content

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/store"
)

type taskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

var taskStatuses = map[string]bool{"open": true, "in_progress": true, "done": true}

func (h *Handler) ListTasks(c *fiber.Ctx) error {
	rows, err := h.listRows(c.Context(), "tasks", nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"tasks": rows})
}

func (h *Handler) GetTask(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "tasks", "task", c.Params("id"), nil)
	if err != nil {
		return err
	}
	return c.JSON(row)
}

func (h *Handler) CreateTask(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var in taskInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Title == "" {
		return BadRequestError("title is required")
	}
	if in.Status == "" {
		in.Status = "open"
	}
	if !taskStatuses[in.Status] {
		return BadRequestError("status must be open, in_progress or done")
	}

	id := newID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO tasks (id, user_id, title, description, status)
		 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(user.ID), pb.Add(in.Title), pb.Add(in.Description), pb.Add(in.Status)),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err := h.fetchRow(c.Context(), "tasks", "task", id, nil)
	if err != nil {
		return err
	}
	h.notify("task.created", row)
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *Handler) UpdateTask(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "tasks", "task", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}

	var in taskInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Title != "" {
		row["title"] = in.Title
	}
	if in.Description != "" {
		row["description"] = in.Description
	}
	if in.Status != "" {
		if !taskStatuses[in.Status] {
			return BadRequestError("status must be open, in_progress or done")
		}
		row["status"] = in.Status
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE tasks SET title = %s, description = %s, status = %s, updated_at = %s WHERE id = %s`,
			pb.Add(row["title"]), pb.Add(row["description"]), pb.Add(row["status"]),
			h.store.Dialect.NowExpr(), pb.Add(row["id"])),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err = h.fetchRow(c.Context(), "tasks", "task", c.Params("id"), nil)
	if err != nil {
		return err
	}
	h.notify("task.updated", row)
	return c.JSON(row)
}

func (h *Handler) DeleteTask(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "tasks", "task", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}
	if err := h.deleteRow(c.Context(), "tasks", c.Params("id")); err != nil {
		return err
	}
	h.notify("task.deleted", row)
	return c.JSON(fiber.Map{"deleted": row["id"]})
}
