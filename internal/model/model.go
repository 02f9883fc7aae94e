// Package model defines the data structures shared by the relay: the configured feed sources, the items parsed
// out of them, the delivery records that make delivery idempotent, and the transient per-cycle outcomes.
package model

import (
	"context"
	"errors"
	"time"
)

type Format string

const (
	FormatAuto Format = ""
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
	FormatJSON Format = "json"
)

type FeedSource struct {
	ID       string
	URL      string
	Name     string
	Format   Format
	Insecure bool
}

// DisplayName is the human readable name of the source, falling back to its id.
func (s FeedSource) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

type Item struct {
	FeedID      string
	GUID        string
	Title       string
	Link        string
	PublishedAt *time.Time
	RawSummary  string
}

type DeliveryRecord struct {
	FeedID      string    `db:"feed_id"`
	GUID        string    `db:"guid"`
	DeliveredAt time.Time `db:"delivered_at"`
}

type Stage string

const (
	StageFetching   Stage = "fetching"
	StageParsing    Stage = "parsing"
	StageFiltering  Stage = "filtering"
	StageDelivering Stage = "delivering"
	StageCommitting Stage = "committing"
	StageDone       Stage = "done"
)

// FeedOutcome is the result of visiting one feed during a cycle. Stage is StageDone on success, otherwise the
// stage in which processing stopped, with Err holding the cause.
type FeedOutcome struct {
	FeedID    string
	Stage     Stage
	Parsed    int
	Fresh     int
	Delivered int
	Rejected  int
	Duration  time.Duration
	Err       error
}

func (o FeedOutcome) Failed() bool {
	return o.Err != nil
}

func (o FeedOutcome) TimedOut() bool {
	return errors.Is(o.Err, context.DeadlineExceeded)
}

type CycleState struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []FeedSource
	Outcomes   []FeedOutcome
}

func (c CycleState) Failed() int {
	var n int
	for _, o := range c.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

func (c CycleState) Delivered() int {
	var n int
	for _, o := range c.Outcomes {
		n += o.Delivered
	}
	return n
}
