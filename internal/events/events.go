// Package events publishes document change notifications emitted by the CRUD
// engine after successful mutations.
package events

import (
	"context"
	"time"
)

// Change describes one mutation applied to a collection. ID and State are set
// for single-document operations; Count for multi-document ones.
type Change struct {
	Op         string      `json:"op"`
	Collection string      `json:"collection"`
	ID         interface{} `json:"id,omitempty"`
	State      string      `json:"state,omitempty"`
	Count      int64       `json:"count,omitempty"`
	Actor      string      `json:"actor,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Publisher delivers change notifications to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Change) error { return nil }

// Noop returns a publisher that drops every change.
func Noop() Publisher {
	return noopPublisher{}
}
