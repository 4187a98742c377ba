package catalog

import (
	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// =============================================================================
// SINGER CATALOG
// =============================================================================

// Catalog is the discovery document printed by the discover command.
type Catalog struct {
	Streams []Entry `json:"streams"`
}

// Entry is one stream of a Singer catalog.
type Entry struct {
	TapStreamID       string         `json:"tap_stream_id"`
	Stream            string         `json:"stream"`
	Schema            map[string]any `json:"schema"`
	KeyProperties     []string       `json:"key_properties"`
	ReplicationKey    string         `json:"replication_key,omitempty"`
	ReplicationMethod string         `json:"replication_method"`
	Metadata          []Metadata     `json:"metadata"`
}

// Metadata is a Singer metadata entry.
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Discover builds the catalog for the given streams.
func Discover(streams []*extract.StreamDescriptor) *Catalog {
	cat := &Catalog{Streams: make([]Entry, 0, len(streams))}
	for _, desc := range streams {
		cat.Streams = append(cat.Streams, entryFor(desc))
	}
	return cat
}

func entryFor(desc *extract.StreamDescriptor) Entry {
	method := "FULL_TABLE"
	if desc.HasReplicationKey() {
		method = "INCREMENTAL"
	}

	streamMeta := map[string]any{
		"inclusion":                 "available",
		"selected":                  true,
		"table-key-properties":      desc.PrimaryKeys,
		"forced-replication-method": method,
	}
	if desc.HasReplicationKey() {
		streamMeta["valid-replication-keys"] = []string{desc.ReplicationKey}
	}
	meta := []Metadata{{Breadcrumb: []string{}, Metadata: streamMeta}}

	keys := make(map[string]bool, len(desc.PrimaryKeys)+1)
	for _, k := range desc.PrimaryKeys {
		keys[k] = true
	}
	if desc.HasReplicationKey() {
		keys[desc.ReplicationKey] = true
	}
	for _, f := range desc.Schema {
		inclusion := "available"
		if keys[f.Name] {
			inclusion = "automatic"
		}
		meta = append(meta, Metadata{
			Breadcrumb: []string{"properties", f.Name},
			Metadata:   map[string]any{"inclusion": inclusion},
		})
	}

	return Entry{
		TapStreamID:       desc.Name,
		Stream:            desc.Name,
		Schema:            JSONSchema(desc),
		KeyProperties:     append([]string{}, desc.PrimaryKeys...),
		ReplicationKey:    desc.ReplicationKey,
		ReplicationMethod: method,
		Metadata:          meta,
	}
}

// JSONSchema renders a stream's fields as a JSON Schema object. Every field
// except primary keys accepts null.
func JSONSchema(desc *extract.StreamDescriptor) map[string]any {
	pk := make(map[string]bool, len(desc.PrimaryKeys))
	for _, k := range desc.PrimaryKeys {
		pk[k] = true
	}

	props := make(map[string]any, len(desc.Schema))
	for _, f := range desc.Schema {
		props[f.Name] = fieldSchema(f, !pk[f.Name])
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}

func fieldSchema(f extract.Field, nullable bool) map[string]any {
	s := map[string]any{"type": jsonType(f.Type, nullable)}
	switch f.Type {
	case "array":
		item := f.Items
		if item == "" {
			item = "string"
		}
		s["items"] = map[string]any{"type": jsonType(item, false)}
	case "object":
		s["additionalProperties"] = true
	}
	if f.Comment != "" {
		s["description"] = f.Comment
	}
	return s
}

func jsonType(t string, nullable bool) any {
	if nullable {
		return []string{t, "null"}
	}
	return t
}
