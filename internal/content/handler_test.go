package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"pulse-backend/internal/bus"
	"pulse-backend/internal/store"
)

type capturingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *capturingEmitter) Emit(eventType string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func (e *capturingEmitter) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

type testEnv struct {
	app     *fiber.App
	bus     *bus.Bus
	emitter *capturingEmitter
}

// identityMW injects a fixed caller so tests can exercise ownership rules
// without going through the token flow.
func identityMW(user *Identity) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}
}

// seedUser inserts a matching _users row for an injected identity so that
// rows referencing it satisfy the user_id foreign keys.
func seedUser(t *testing.T, st *store.Store, id string) {
	t.Helper()
	pb := st.Dialect.NewParamBuilder()
	_, err := store.Exec(context.Background(), st.DB,
		fmt.Sprintf(`INSERT INTO _users (id, email, password_hash, roles) VALUES (%s, %s, %s, %s)`,
			pb.Add(id), pb.Add(id+"@local"), pb.Add("x"), pb.Add(`["user"]`)),
		pb.Params()...)
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func newTestEnv(t *testing.T, user *Identity) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewMemory(ctx)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if user != nil {
		seedUser(t, st, user.ID)
	}

	b := bus.New()
	emitter := &capturingEmitter{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, NewHandler(st, b, emitter), identityMW(user))
	return &testEnv{app: app, bus: b, emitter: emitter}
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestCreateTaskPublishesAndEmits(t *testing.T) {
	user := &Identity{ID: "u1", Roles: []string{"user"}}
	env := newTestEnv(t, user)

	sub := env.bus.Subscribe("task.created")
	defer sub.Close()

	status, row := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{
		"title": "write release notes",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body = %v", status, row)
	}
	if row["user_id"] != "u1" {
		t.Fatalf("user_id = %v", row["user_id"])
	}
	if row["status"] != "open" {
		t.Fatalf("default status = %v", row["status"])
	}

	evt, ok := <-sub.C()
	if !ok {
		t.Fatal("bus subscription closed")
	}
	if evt.Topic != "task.created" {
		t.Fatalf("topic = %q", evt.Topic)
	}
	if evt.Data["id"] != row["id"] {
		t.Fatalf("bus event id = %v, want %v", evt.Data["id"], row["id"])
	}

	if got := env.emitter.snapshot(); len(got) != 1 || got[0] != "task.created" {
		t.Fatalf("emitted = %v", got)
	}
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "x"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, body = %v", status, body)
	}
}

func TestCreateTaskValidatesInput(t *testing.T) {
	env := newTestEnv(t, &Identity{ID: "u1"})

	status, _ := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"description": "no title"})
	if status != fiber.StatusBadRequest {
		t.Fatalf("missing title: status = %d", status)
	}

	status, _ = doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{
		"title": "x", "status": "bogus",
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("bad status value: status = %d", status)
	}
}

func TestCreateTaskRejectsUnknownUser(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	// Valid token, but the subject has no _users row (e.g. deleted account).
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, NewHandler(st, bus.New(), &capturingEmitter{}),
		identityMW(&Identity{ID: "ghost"}))

	status, body := doJSON(t, app, "POST", "/api/tasks/", map[string]any{"title": "x"})
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "INVALID_REFERENCE" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestUpdateTaskOwnershipEnforced(t *testing.T) {
	owner := &Identity{ID: "u1"}
	env := newTestEnv(t, owner)

	_, row := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "mine"})
	taskID := row["id"].(string)

	status, row := doJSON(t, env.app, "PUT", "/api/tasks/"+taskID, map[string]any{"title": "renamed"})
	if status != fiber.StatusOK {
		t.Fatalf("owner update: status = %d", status)
	}
	if row["title"] != "renamed" {
		t.Fatalf("title = %v", row["title"])
	}
}

func TestUpdateTaskForbiddenForNonOwner(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	if err := st.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"u1", "u2", "u3"} {
		seedUser(t, st, id)
	}
	h := NewHandler(st, bus.New(), &capturingEmitter{})

	ownerApp := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(ownerApp, h, identityMW(&Identity{ID: "u1"}))
	strangerApp := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(strangerApp, h, identityMW(&Identity{ID: "u2"}))
	adminApp := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(adminApp, h, identityMW(&Identity{ID: "u3", Roles: []string{"admin"}}))

	_, row := doJSON(t, ownerApp, "POST", "/api/tasks/", map[string]any{"title": "mine"})
	taskID := row["id"].(string)

	status, _ := doJSON(t, strangerApp, "PUT", "/api/tasks/"+taskID, map[string]any{"title": "stolen"})
	if status != fiber.StatusForbidden {
		t.Fatalf("stranger update: status = %d", status)
	}

	status, _ = doJSON(t, adminApp, "PUT", "/api/tasks/"+taskID, map[string]any{"title": "moderated"})
	if status != fiber.StatusOK {
		t.Fatalf("admin update: status = %d", status)
	}
}

func TestDeleteTaskEmitsDeleted(t *testing.T) {
	env := newTestEnv(t, &Identity{ID: "u1"})

	_, row := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "doomed"})
	taskID := row["id"].(string)

	status, _ := doJSON(t, env.app, "DELETE", "/api/tasks/"+taskID, nil)
	if status != fiber.StatusOK {
		t.Fatalf("delete: status = %d", status)
	}
	status, _ = doJSON(t, env.app, "GET", "/api/tasks/"+taskID, nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("get after delete: status = %d", status)
	}

	got := env.emitter.snapshot()
	if len(got) != 2 || got[1] != "task.deleted" {
		t.Fatalf("emitted = %v", got)
	}
}

func TestPublishPostEmitsOnceAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t, &Identity{ID: "u1"})

	_, row := doJSON(t, env.app, "POST", "/api/posts/", map[string]any{
		"title": "hello", "body": "world",
	})
	postID := row["id"].(string)
	if published, _ := row["published"].(bool); published {
		t.Fatal("new post should start unpublished")
	}

	status, row := doJSON(t, env.app, "POST", "/api/posts/"+postID+"/publish", nil)
	if status != fiber.StatusOK {
		t.Fatalf("publish: status = %d", status)
	}
	if published, _ := row["published"].(bool); !published {
		t.Fatalf("published = %v", row["published"])
	}
	if row["published_at"] == nil {
		t.Fatal("published_at not set")
	}

	// second publish is a no-op
	status, _ = doJSON(t, env.app, "POST", "/api/posts/"+postID+"/publish", nil)
	if status != fiber.StatusOK {
		t.Fatalf("re-publish: status = %d", status)
	}

	got := env.emitter.snapshot()
	want := []string{"post.created", "post.published"}
	if len(got) != len(want) {
		t.Fatalf("emitted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emitted = %v, want %v", got, want)
		}
	}
}

func TestCreateCommentRequiresExistingTask(t *testing.T) {
	env := newTestEnv(t, &Identity{ID: "u1"})

	status, _ := doJSON(t, env.app, "POST", "/api/comments/", map[string]any{
		"task_id": "nope", "body": "hi",
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("dangling task_id: status = %d", status)
	}

	_, task := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "t"})
	status, comment := doJSON(t, env.app, "POST", "/api/comments/", map[string]any{
		"task_id": task["id"], "body": "hi",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create comment: status = %d, body = %v", status, comment)
	}
	if comment["task_id"] != task["id"] {
		t.Fatalf("task_id = %v", comment["task_id"])
	}
}

func TestListCommentsFiltersByTask(t *testing.T) {
	env := newTestEnv(t, &Identity{ID: "u1"})

	_, t1 := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "a"})
	_, t2 := doJSON(t, env.app, "POST", "/api/tasks/", map[string]any{"title": "b"})
	doJSON(t, env.app, "POST", "/api/comments/", map[string]any{"task_id": t1["id"], "body": "one"})
	doJSON(t, env.app, "POST", "/api/comments/", map[string]any{"task_id": t2["id"], "body": "two"})

	status, body := doJSON(t, env.app, "GET", "/api/comments/?task_id="+t1["id"].(string), nil)
	if status != fiber.StatusOK {
		t.Fatalf("list: status = %d", status)
	}
	comments := body["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
}
