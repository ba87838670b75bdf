// Package models defines the domain types for margin.
package models

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// World is the public group every network annotation belongs to.
const World = "__world__"

// Cluster values classify an annotation for UI routing only.
const (
	ClusterUser  = "user-annotations"
	ClusterOther = "other-content"
)

// Selector type names as they appear on annotation targets.
const (
	TextQuoteSelector    = "TextQuoteSelector"
	TextPositionSelector = "TextPositionSelector"
	RangeSelector        = "RangeSelector"
)

// Selector is one anchoring hint inside a target. Only the fields of the
// variant named by Type are meaningful.
type Selector struct {
	Type string `json:"type"`

	// TextQuoteSelector
	Exact  string `json:"exact,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Suffix string `json:"suffix,omitempty"`

	// TextPositionSelector
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`

	// RangeSelector
	StartContainer string `json:"startContainer,omitempty"`
	EndContainer   string `json:"endContainer,omitempty"`
	StartOffset    int    `json:"startOffset,omitempty"`
	EndOffset      int    `json:"endOffset,omitempty"`
}

// Target anchors an annotation to a document, optionally to a text selection.
type Target struct {
	Source   string     `json:"source"`
	Selector []Selector `json:"selector,omitempty"`
}

// Document carries document-level metadata.
type Document struct {
	Title string `json:"title"`
}

// UserInfo carries author display data.
type UserInfo struct {
	DisplayName string `json:"display_name,omitempty"`
}

// Permissions lists principals per action.
type Permissions struct {
	Read   []string `json:"read"`
	Update []string `json:"update"`
	Delete []string `json:"delete"`
}

// Links holds external URLs for an annotation.
type Links struct {
	HTML string `json:"html,omitempty"`
}

// Annotation is the local representation of a highlight, a page note, or a
// reply to either. It is replaced wholesale, never mutated in place once
// shared.
type Annotation struct {
	ID          string      `json:"id,omitempty"`
	Tag         string      `json:"$tag,omitempty"`
	Cluster     string      `json:"$cluster,omitempty"`
	Highlight   bool        `json:"$highlight,omitempty"`
	Created     time.Time   `json:"created"`
	Updated     time.Time   `json:"updated"`
	URI         string      `json:"uri"`
	Document    Document    `json:"document"`
	Group       string      `json:"group"`
	User        string      `json:"user,omitempty"`
	UserInfo    UserInfo    `json:"user_info"`
	Tags        []string    `json:"tags"`
	Text        string      `json:"text"`
	Target      []Target    `json:"target"`
	References  []string    `json:"references,omitempty"`
	Permissions Permissions `json:"permissions"`
	Links       Links       `json:"links"`

	// Event is the signed source event this annotation was derived from or
	// published as. Nil for drafts.
	Event *nostr.Event `json:"nostr_event,omitempty"`
}

// IsSaved reports whether the annotation has been persisted to the network.
func (a *Annotation) IsSaved() bool {
	return a.ID != ""
}

// IsReply reports whether the annotation sits below a thread root.
func (a *Annotation) IsReply() bool {
	return len(a.References) > 0
}

// Root returns the thread root id, or the annotation's own id for roots.
func (a *Annotation) Root() string {
	if len(a.References) > 0 {
		return a.References[0]
	}
	return a.ID
}

// Parent returns the immediate parent id, or "" for roots.
func (a *Annotation) Parent() string {
	if len(a.References) == 0 {
		return ""
	}
	return a.References[len(a.References)-1]
}

// Selectors returns every selector across all targets.
func (a *Annotation) Selectors() []Selector {
	var out []Selector
	for _, t := range a.Target {
		out = append(out, t.Selector...)
	}
	return out
}

// Clone returns a deep copy so callers can derive a replacement without
// touching the original.
func (a Annotation) Clone() Annotation {
	out := a
	out.Tags = append([]string(nil), a.Tags...)
	out.References = append([]string(nil), a.References...)
	out.Target = make([]Target, len(a.Target))
	for i, t := range a.Target {
		out.Target[i] = Target{Source: t.Source, Selector: append([]Selector(nil), t.Selector...)}
	}
	out.Permissions = Permissions{
		Read:   append([]string(nil), a.Permissions.Read...),
		Update: append([]string(nil), a.Permissions.Update...),
		Delete: append([]string(nil), a.Permissions.Delete...),
	}
	return out
}

// WorldReadable returns the permission block for network annotations: public
// to read, not locally editable.
func WorldReadable() Permissions {
	return Permissions{
		Read:   []string{"group:" + World},
		Update: []string{},
		Delete: []string{},
	}
}

// Profile is author metadata resolved from a kind-0 event.
type Profile struct {
	PublicKey   string `json:"pubkey"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
}
