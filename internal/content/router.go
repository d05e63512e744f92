package content

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the CRUD API. Reads are public; writes resolve the
// caller through the auth middleware and enforce ownership per row.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	api := app.Group("/api", authMW)

	tasks := api.Group("/tasks")
	tasks.Get("/", h.ListTasks)
	tasks.Post("/", h.CreateTask)
	tasks.Get("/:id", h.GetTask)
	tasks.Put("/:id", h.UpdateTask)
	tasks.Delete("/:id", h.DeleteTask)

	products := api.Group("/products")
	products.Get("/", h.ListProducts)
	products.Post("/", h.CreateProduct)
	products.Get("/:id", h.GetProduct)
	products.Put("/:id", h.UpdateProduct)
	products.Delete("/:id", h.DeleteProduct)

	posts := api.Group("/posts")
	posts.Get("/", h.ListPosts)
	posts.Post("/", h.CreatePost)
	posts.Get("/:id", h.GetPost)
	posts.Put("/:id", h.UpdatePost)
	posts.Post("/:id/publish", h.PublishPost)
	posts.Delete("/:id", h.DeletePost)

	comments := api.Group("/comments")
	comments.Get("/", h.ListComments)
	comments.Post("/", h.CreateComment)
	comments.Get("/:id", h.GetComment)
	comments.Put("/:id", h.UpdateComment)
	comments.Delete("/:id", h.DeleteComment)
}
