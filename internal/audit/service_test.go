package audit

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	lastCall TimelineParams
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, arg TimelineParams) ([]TimelineRow, error) {
	s.lastCall = arg
	if arg.LimitRows > 0 && int(arg.LimitRows) < len(s.rows) {
		return s.rows[:arg.LimitRows], nil
	}
	return s.rows, nil
}

func row(at string, action, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, ActorID: 7, Action: action, Entity: "quote_version", EntityID: entityID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		row("2026-03-10T10:00:00Z", "quote.version.finalized", "3"),
		row("2026-03-09T09:00:00Z", "quote.version.recalculated", "2"),
		row("2026-03-08T08:00:00Z", "quote.version.created", "1"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Entity: " quote_version "})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)
	assert.EqualValues(t, 3, repo.lastCall.LimitRows)
	assert.EqualValues(t, 0, repo.lastCall.OffsetRows)
	assert.True(t, repo.lastCall.Entity.Valid)
	assert.Equal(t, "quote_version", repo.lastCall.Entity.String)
	assert.False(t, repo.lastCall.Action.Valid)
	assert.False(t, repo.lastCall.ActorID.Valid)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500, ActorID: 7})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, 2, result.Paging.PrevPage)
	assert.False(t, result.Paging.HasNext)
	assert.NotNil(t, result.Rows)
	assert.EqualValues(t, 2*maxPageSize, repo.lastCall.OffsetRows)
	assert.Equal(t, int64(7), repo.lastCall.ActorID.Int64)
}

func TestServiceExportUsesCap(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{row("2026-03-10T10:00:00Z", "quote.version.created", "1")}}
	svc := NewService(repo)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows, err := svc.Export(context.Background(), TimelineFilters{From: from, EntityID: "1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.EqualValues(t, maxExportRows, repo.lastCall.LimitRows)
	assert.True(t, repo.lastCall.FromAt.Valid)
	assert.False(t, repo.lastCall.ToAt.Valid)
	assert.Equal(t, "1", repo.lastCall.EntityID.String)
}

func TestServiceWithoutRepository(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
	_, err = svc.Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	r := row("2026-03-10T10:00:00Z", "quote.version.finalized", "3")
	r.Meta = map[string]any{"quote_id": 1, "total_amount": "348.00"}

	out, err := WriteCSV([]TimelineRow{r})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"at", "actor_id", "action", "entity", "entity_id", "meta"}, records[0])
	assert.Equal(t, "2026-03-10T10:00:00Z", records[1][0])
	assert.Equal(t, "7", records[1][1])
	assert.JSONEq(t, `{"quote_id":1,"total_amount":"348.00"}`, records[1][5])
}
