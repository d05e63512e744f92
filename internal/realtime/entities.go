package realtime

// EntityType describes one streamed entity family: the singular name used in
// event types ("task" → "task.created"), the duplex channel name, and the bus
// topics fanned out to its live subscribers.
type EntityType struct {
	Name    string
	Channel string
	Topics  []string
}

func lifecycle(name string, extra ...string) []string {
	topics := []string{name + ".created", name + ".updated", name + ".deleted"}
	return append(topics, extra...)
}

// Entities is the fixed catalogue of streamed entity types.
var Entities = []EntityType{
	{Name: "task", Channel: "tasks", Topics: lifecycle("task")},
	{Name: "product", Channel: "products", Topics: lifecycle("product")},
	{Name: "post", Channel: "posts", Topics: lifecycle("post", "post.published")},
	{Name: "comment", Channel: "comments", Topics: lifecycle("comment")},
}

// AllTopics returns every lifecycle topic across the catalogue.
func AllTopics() []string {
	var topics []string
	for _, e := range Entities {
		topics = append(topics, e.Topics...)
	}
	return topics
}
