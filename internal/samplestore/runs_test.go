package samplestore

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
)

func finishedStatus(runID string, started time.Time, errText string) backfill.ChannelStatus {
	return backfill.ChannelStatus{
		Channel: backfill.Channel{ResourceID: "res-1", Item: "energy"},
		RunID:   runID,
		LastRun: started,
		LastResult: &backfill.Result{
			ResourceID: "res-1",
			Item:       "energy",
			Gaps:       []backfill.TimeWindow{window(day0, day0.Add(time.Hour))},
			Chunks:     1,
			Samples:    2,
			StartedAt:  started,
			FinishedAt: started.Add(3 * time.Second),
		},
		LastError: errText,
	}
}

func TestRunLog_RecordAndRecent(t *testing.T) {
	log := NewRunLog(openMigratedDB(t))
	ctx := context.Background()

	statuses := []backfill.ChannelStatus{
		finishedStatus("run-1", day0, ""),
		finishedStatus("run-2", day0.Add(time.Hour), "meter: communication error"),
		finishedStatus("run-2", day0.Add(time.Hour), "meter: communication error"),
		{Channel: backfill.Channel{ResourceID: "res-1"}, RunID: "run-3", Running: true},
		{Channel: backfill.Channel{ResourceID: "res-1"}},
	}
	for _, st := range statuses {
		if err := log.Record(ctx, st); err != nil {
			t.Fatalf("Record(%s) error = %v", st.RunID, err)
		}
	}

	runs, err := log.Recent(ctx, "res-1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Recent() returned %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "run-2" || runs[0].Error == "" {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].RunID != "run-1" || runs[1].Error != "" || runs[1].Gaps != 1 || runs[1].Samples != 2 {
		t.Errorf("oldest run = %+v", runs[1])
	}
	if !runs[1].FinishedAt.Equal(day0.Add(3 * time.Second)) {
		t.Errorf("FinishedAt = %v", runs[1].FinishedAt)
	}

	other, err := log.Recent(ctx, "res-2", 10)
	if err != nil {
		t.Fatalf("Recent(res-2) error = %v", err)
	}
	if other == nil || len(other) != 0 {
		t.Errorf("Recent(res-2) = %#v, want empty non-nil slice", other)
	}
}

func TestRunLog_Limit(t *testing.T) {
	log := NewRunLog(openMigratedDB(t))
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := log.Record(ctx, finishedStatus(id, day0.Add(time.Duration(i)*time.Hour), "")); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	runs, err := log.Recent(ctx, "res-1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Errorf("Recent(limit 2) = %+v", runs)
	}
}

func TestRunLog_Prune(t *testing.T) {
	log := NewRunLog(openMigratedDB(t))
	ctx := context.Background()

	for i, id := range []string{"old", "new"} {
		if err := log.Record(ctx, finishedStatus(id, day0.Add(time.Duration(i)*48*time.Hour), "")); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := log.Prune(ctx, day0.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}

	runs, err := log.Recent(ctx, "res-1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "new" {
		t.Errorf("runs after prune = %+v", runs)
	}
}

func TestRunLog_MissingStartUsesLastRun(t *testing.T) {
	log := NewRunLog(openMigratedDB(t))
	ctx := context.Background()

	st := backfill.ChannelStatus{
		Channel:    backfill.Channel{ResourceID: "res-1", Item: "energy"},
		RunID:      "early-failure",
		LastRun:    day0,
		LastResult: &backfill.Result{},
		LastError:  "history: invalid window",
	}
	if err := log.Record(ctx, st); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	runs, err := log.Recent(ctx, "res-1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 1 || !runs[0].StartedAt.Equal(day0) || !runs[0].FinishedAt.Equal(day0) {
		t.Errorf("runs = %+v", runs)
	}
}
