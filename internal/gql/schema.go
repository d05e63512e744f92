package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"

	"pulse-backend/internal/bus"
	"pulse-backend/internal/content"
	"pulse-backend/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity attaches a resolved caller identity to a GraphQL execution context.
func WithIdentity(ctx context.Context, user *content.Identity) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, user)
}

// IdentityFrom extracts the caller identity, or nil for anonymous execution.
func IdentityFrom(ctx context.Context) *content.Identity {
	user, _ := ctx.Value(identityKey).(*content.Identity)
	return user
}

var entityEventType = graphql.NewObject(graphql.ObjectConfig{
	Name: "EntityEvent",
	Fields: graphql.Fields{
		"type":      &graphql.Field{Type: graphql.String},
		"timestamp": &graphql.Field{Type: graphql.String},
		"data": &graphql.Field{
			Type: graphql.String,
			Resolve: func(p graphql.ResolveParams) (any, error) {
				src, ok := p.Source.(map[string]any)
				if !ok {
					return nil, nil
				}
				body, err := json.Marshal(src["data"])
				if err != nil {
					return nil, err
				}
				return string(body), nil
			},
		},
	},
})

// subscriptionField builds one subscription field backed by the bus. The
// optional id argument narrows the stream to a single entity; filterField is
// the payload field the argument matches ("id", or "task_id" for comments).
func subscriptionField(b *bus.Bus, topics []string, argName, filterField string) *graphql.Field {
	return &graphql.Field{
		Type: entityEventType,
		Args: graphql.FieldConfigArgument{
			argName: &graphql.ArgumentConfig{Type: graphql.String},
		},
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return p.Source, nil
		},
		Subscribe: func(p graphql.ResolveParams) (any, error) {
			filterID, _ := p.Args[argName].(string)
			user := IdentityFrom(p.Context)

			sub := b.Subscribe(topics...)
			ch := make(chan any)
			go func() {
				defer sub.Close()
				defer close(ch)
				for {
					evt, ok := sub.Next(p.Context)
					if !ok {
						return
					}
					if !eventMatches(evt, filterField, filterID, user) {
						continue
					}
					value := map[string]any{
						"type":      evt.Topic,
						"timestamp": evt.Time.Format(time.RFC3339),
						"data":      evt.Data,
					}
					select {
					case ch <- value:
					case <-p.Context.Done():
						return
					}
				}
			}()
			return ch, nil
		},
	}
}

// eventMatches applies the same advisory filters as the one-shot streams:
// entity id when requested, and ownership when an identity is present.
func eventMatches(evt bus.Event, filterField, filterID string, user *content.Identity) bool {
	if filterID != "" {
		if id, _ := evt.Data[filterField].(string); id != filterID {
			return false
		}
	}
	if user != nil {
		if owner, _ := evt.Data["user_id"].(string); owner != "" && owner != user.ID {
			return false
		}
	}
	return true
}

var taskType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Task",
	Fields: graphql.Fields{
		"id":          &graphql.Field{Type: graphql.String},
		"title":       &graphql.Field{Type: graphql.String},
		"description": &graphql.Field{Type: graphql.String},
		"status":      &graphql.Field{Type: graphql.String},
		"user_id":     &graphql.Field{Type: graphql.String},
	},
})

// NewSchema builds the shared schema: a minimal query root plus the
// subscription fields served over the duplex transport. st may be nil when
// only subscriptions are exercised; the read fields then resolve to null.
func NewSchema(b *bus.Bus, st *store.Store) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return "ok", nil
				},
			},
			"task": &graphql.Field{
				Type: taskType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if st == nil {
						return nil, nil
					}
					id, _ := p.Args["id"].(string)
					pb := st.Dialect.NewParamBuilder()
					row, err := store.QueryRow(p.Context, st.DB,
						fmt.Sprintf(`SELECT * FROM tasks WHERE id = %s`, pb.Add(id)),
						pb.Params()...)
					if errors.Is(err, store.ErrNotFound) {
						return nil, nil
					}
					return row, err
				},
			},
			"tasks": &graphql.Field{
				Type: graphql.NewList(taskType),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if st == nil {
						return nil, nil
					}
					return store.QueryRows(p.Context, st.DB,
						`SELECT * FROM tasks ORDER BY created_at DESC`)
				},
			},
		},
	})

	lifecycle := func(name string, extra ...string) []string {
		topics := []string{name + ".created", name + ".updated", name + ".deleted"}
		return append(topics, extra...)
	}

	subscription := graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"taskEvents":    subscriptionField(b, lifecycle("task"), "id", "id"),
			"productEvents": subscriptionField(b, lifecycle("product"), "id", "id"),
			"postEvents":    subscriptionField(b, lifecycle("post", "post.published"), "id", "id"),
			"commentEvents": subscriptionField(b, lifecycle("comment"), "taskId", "task_id"),
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        query,
		Subscription: subscription,
	})
}
