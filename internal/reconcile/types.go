package reconcile

import (
	"strings"
	"time"

	"horse.fit/marketpulse/internal/tagging"
)

type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// Batch is one fetch of top-level posts with their flattened reply trees.
type Batch struct {
	Source     string
	ObservedAt time.Time
	Posts      []PostRecord
}

// PostRecord is a fetched top-level item.
type PostRecord struct {
	ID              string
	SourceChannel   string
	RegionDefault   string
	Title           string
	Body            string
	Author          string
	URL             string
	EngagementScore int
	ReplyCount      int
	CreatedAt       time.Time
	Children        []CommentRecord
	// Defect, when set, says why the record could not be decoded. Such a
	// record is counted as malformed and never stored.
	Defect          string
}

// Text is what gets tagged for a post: title and body joined by a space.
func (p PostRecord) Text() string {
	return strings.TrimSpace(strings.TrimSpace(p.Title) + " " + strings.TrimSpace(p.Body))
}

// CommentRecord is a fetched reply. An empty ParentID attaches it to the post.
type CommentRecord struct {
	ID              string
	ParentID        string
	Author          string
	Body            string
	EngagementScore int
	Defect          string
}

// Item is the persisted shape shared by posts and comments.
type Item struct {
	ID               string
	ParentID         *string
	RootID           string
	Kind             ItemKind
	SourceChannel    string
	Author           string
	Title            string
	URL              string
	BodyText         string
	EngagementScore  int
	ReplyCount       *int
	InstrumentSymbol *string
	Region           string
	SentimentScore   *float64
	Language         string
	CreatedAt        time.Time
}

// Tags returns the item-level annotations children inherit from.
func (i Item) Tags() tagging.Tags {
	return tagging.Tags{
		Symbol:    i.InstrumentSymbol,
		Region:    i.Region,
		Sentiment: i.SentimentScore,
	}
}

// Result counts what one Reconcile call did. Inserted and Updated count
// top-level units; child counters are reported separately.
type Result struct {
	Inserted         int      `json:"inserted"`
	Updated          int      `json:"updated"`
	Skipped          int      `json:"skipped"`
	Failed           int      `json:"failed"`
	Malformed        int      `json:"malformed"`
	Unresolved       int      `json:"unresolved"`
	ChildrenInserted int      `json:"children_inserted"`
	ChildrenUpdated  int      `json:"children_updated"`
	ScoreFailures    int      `json:"score_failures"`
	Attempts         int      `json:"attempts"`
	SkippedIDs       []string `json:"skipped_ids,omitempty"`
}

// Add accumulates another result into r.
func (r *Result) Add(other Result) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Malformed += other.Malformed
	r.Unresolved += other.Unresolved
	r.ChildrenInserted += other.ChildrenInserted
	r.ChildrenUpdated += other.ChildrenUpdated
	r.ScoreFailures += other.ScoreFailures
	r.Attempts += other.Attempts
	r.SkippedIDs = append(r.SkippedIDs, other.SkippedIDs...)
}
