package command

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind is the classified command category.
type Kind string

const (
	KindContact      Kind = "contact"
	KindTask         Kind = "task"
	KindUrgentItem   Kind = "urgent"
	KindQueueItem    Kind = "queue"
	KindUnrecognized Kind = "unrecognized"
)

// FunctionCall is the structured output of the speech model: a named action
// with raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Args is the parsed argument shape of a create_task function call.
type Args struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Contact     string `json:"contact"`
	Phone       string `json:"phone"`
	Location    string `json:"location"`
	Time        string `json:"time"`
	TaskType    string `json:"task_type"`
	Priority    string `json:"priority"`
}

// Command is a typed, actionable voice command.
type Command struct {
	Kind        Kind
	Title       string
	Description string
	Contact     string
	ContactType string
	Phone       string
	Location    string
	Time        string
	TaskType    string
	Priority    string
	Actions     []string
}

// ContentHash digests the command's text fields so repeated identical
// utterances hash identically regardless of when they were spoken. Timestamps
// never participate.
func (c Command) ContentHash() string {
	sum := sha256.Sum256([]byte(normalize(c.Title + "|" + c.Description + "|" + c.Contact)))
	return hex.EncodeToString(sum[:])
}

// normalize lowercases and collapses whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
