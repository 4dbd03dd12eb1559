// Package nl2query translates a natural-language analytics question into a
// structured report query using a hosted language model.
package nl2query

import (
	"context"
	"errors"

	"github.com/whisperer/whisperer/internal/report"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Question string `json:"question"`
	History  []Turn `json:"history,omitempty"`
	// Previous is the most recent fetched table, offered to the model so it
	// can answer follow-ups without a new data pull.
	Previous *report.Result `json:"-"`
}

type Kind string

const (
	KindQuery           Kind = "query"
	KindConversational  Kind = "conversational"
	KindUninterpretable Kind = "uninterpretable"
)

var ErrUninterpretable = errors.New("could not interpret question as a report query")

// Outcome is exactly one of: a repaired query, a conversational reply that
// needs no new data, or a failure to interpret.
type Outcome struct {
	Kind   Kind         `json:"kind"`
	Query  report.Query `json:"query,omitempty"`
	Reply  string       `json:"reply,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Raw    string       `json:"raw,omitempty"`
	Model  string       `json:"model,omitempty"`
}

// Err returns ErrUninterpretable for uninterpretable outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Kind == KindUninterpretable {
		return ErrUninterpretable
	}
	return nil
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Outcome, error)
}
