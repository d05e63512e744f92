package content

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/store"
)

type productInput struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
	Stock *int     `json:"stock"`
}

func (h *Handler) ListProducts(c *fiber.Ctx) error {
	rows, err := h.listRows(c.Context(), "products", nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"products": rows})
}

func (h *Handler) GetProduct(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "products", "product", c.Params("id"), nil)
	if err != nil {
		return err
	}
	return c.JSON(row)
}

func (h *Handler) CreateProduct(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var in productInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Name == "" {
		return BadRequestError("name is required")
	}
	price := 0.0
	if in.Price != nil {
		price = *in.Price
	}
	if price < 0 {
		return BadRequestError("price must not be negative")
	}
	stock := 0
	if in.Stock != nil {
		stock = *in.Stock
	}
	if stock < 0 {
		return BadRequestError("stock must not be negative")
	}

	id := newID()
	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`INSERT INTO products (id, user_id, name, price, stock)
		 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(id), pb.Add(user.ID), pb.Add(in.Name), pb.Add(price), pb.Add(stock)),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err := h.fetchRow(c.Context(), "products", "product", id, nil)
	if err != nil {
		return err
	}
	h.notify("product.created", row)
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (h *Handler) UpdateProduct(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "products", "product", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}

	var in productInput
	if err := c.BodyParser(&in); err != nil {
		return BadRequestError("invalid JSON body")
	}
	if in.Name != "" {
		row["name"] = in.Name
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return BadRequestError("price must not be negative")
		}
		row["price"] = *in.Price
	}
	if in.Stock != nil {
		if *in.Stock < 0 {
			return BadRequestError("stock must not be negative")
		}
		row["stock"] = *in.Stock
	}

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(c.Context(), h.store.DB,
		fmt.Sprintf(`UPDATE products SET name = %s, price = %s, stock = %s, updated_at = %s WHERE id = %s`,
			pb.Add(row["name"]), pb.Add(row["price"]), pb.Add(row["stock"]),
			h.store.Dialect.NowExpr(), pb.Add(row["id"])),
		pb.Params()...)
	if err != nil {
		return h.mapWriteError(err)
	}

	row, err = h.fetchRow(c.Context(), "products", "product", c.Params("id"), nil)
	if err != nil {
		return err
	}
	h.notify("product.updated", row)
	return c.JSON(row)
}

func (h *Handler) DeleteProduct(c *fiber.Ctx) error {
	row, err := h.fetchRow(c.Context(), "products", "product", c.Params("id"), nil)
	if err != nil {
		return err
	}
	if _, err := requireWriter(c, row); err != nil {
		return err
	}
	if err := h.deleteRow(c.Context(), "products", c.Params("id")); err != nil {
		return err
	}
	h.notify("product.deleted", row)
	return c.JSON(fiber.Map{"deleted": row["id"]})
}
