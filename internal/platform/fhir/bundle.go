package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NewCollectionBundle creates a collection Bundle. Each resource is paired
// with the fullUrl at the same index.
func NewCollectionBundle(id string, fullURLs []string, resources []interface{}) (*Bundle, error) {
	if len(fullURLs) != len(resources) {
		return nil, fmt.Errorf("fhir: %d full URLs for %d resources", len(fullURLs), len(resources))
	}
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("fhir: marshal entry %d: %w", i, err)
		}
		entries[i] = BundleEntry{FullURL: fullURLs[i], Resource: raw}
	}
	return &Bundle{
		ResourceType: "Bundle",
		ID:           id,
		Type:         "collection",
		Entry:        entries,
	}, nil
}
