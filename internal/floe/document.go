package floe

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Identifier is implemented by documents that carry a stable ID. Documents
// without one get an engine-assigned ID.
type Identifier interface {
	DocumentID() string
}

// IDSetter is implemented by result types that want the hit's _id.
type IDSetter interface {
	SetDocumentID(id string)
}

// Doc is a schemaless document: an optional ID plus raw JSON source.
type Doc struct {
	ID     string
	Source json.RawMessage
}

func (d Doc) DocumentID() string { return d.ID }

func (d *Doc) SetDocumentID(id string) { d.ID = id }

// MarshalJSON emits the source only; the ID travels in the bulk action line.
func (d Doc) MarshalJSON() ([]byte, error) {
	if len(d.Source) == 0 {
		return []byte("{}"), nil
	}
	return d.Source, nil
}

func (d *Doc) UnmarshalJSON(b []byte) error {
	d.Source = append(d.Source[:0], b...)
	return nil
}

// entry is a buffered, already-encoded document.
type entry struct {
	id     string
	source json.RawMessage
}

// key identifies an entry for duplicate suppression: same ID and same
// compact source bytes.
func (e entry) key() string {
	return e.id + "\x00" + string(e.source)
}

func encodeEntry(doc interface{}) (entry, error) {
	if doc == nil {
		return entry{}, fmt.Errorf("nil document")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return entry{}, fmt.Errorf("encoding document: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return entry{}, fmt.Errorf("compacting document: %w", err)
	}
	e := entry{source: buf.Bytes()}
	if ider, ok := doc.(Identifier); ok {
		e.id = ider.DocumentID()
	}
	return e, nil
}

// distinct drops repeated entries, keeping the first occurrence in order.
func distinct(entries []entry) []entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		k := e.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

type hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// decodeHit extracts _source from a search hit into a T. When *T implements
// IDSetter it also receives the hit's _id.
func decodeHit[T any](raw json.RawMessage) (T, error) {
	var out T
	var h hit
	if err := json.Unmarshal(raw, &h); err != nil {
		return out, fmt.Errorf("parsing hit: %w", err)
	}
	if h.Source == nil {
		return out, fmt.Errorf("hit %q missing _source field", h.ID)
	}
	if err := json.Unmarshal(h.Source, &out); err != nil {
		return out, fmt.Errorf("decoding hit %q: %w", h.ID, err)
	}
	if setter, ok := any(&out).(IDSetter); ok {
		setter.SetDocumentID(h.ID)
	}
	return out, nil
}

func decodeHits[T any](hits []json.RawMessage) ([]T, error) {
	docs := make([]T, 0, len(hits))
	for i, raw := range hits {
		doc, err := decodeHit[T](raw)
		if err != nil {
			return docs, fmt.Errorf("hit %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
