package tokens

import (
	"context"
	"sort"
	"time"
)

// StatsAggregator derives lifetime usage statistics from the event log.
type StatsAggregator struct {
	events   EventStore
	weeks    WeekCalculator
	topItems int
}

// NewStatsAggregator creates a StatsAggregator returning at most topItems
// ranked items by default.
func NewStatsAggregator(events EventStore, weeks WeekCalculator, topItems int) *StatsAggregator {
	if topItems <= 0 {
		topItems = DefaultConfig().TopItems
	}
	return &StatsAggregator{events: events, weeks: weeks, topItems: topItems}
}

// UsageStats reads every event of userID and summarises them. top limits the
// ranked item list; zero or less uses the configured default.
func (a *StatsAggregator) UsageStats(ctx context.Context, userID string, top int) (UsageStats, error) {
	if userID == "" {
		return UsageStats{}, ErrNotAuthenticated
	}
	if top <= 0 {
		top = a.topItems
	}

	events, err := a.events.QueryByUser(ctx, userID, EventQuery{})
	if err != nil {
		return UsageStats{}, readFailure("querying reset history", err)
	}
	return a.summarise(events, top), nil
}

type itemKey struct {
	id    string
	title string
	typ   TokenType
}

func (a *StatsAggregator) summarise(events []ResetEvent, top int) UsageStats {
	stats := emptyUsageStats()
	if len(events) == 0 {
		return stats
	}

	perWeek := make(map[time.Time]int)
	items := make(map[itemKey]*ItemResetCount)

	for _, e := range events {
		stats.TotalResetsUsed++
		stats.ResetsByType[e.Type]++

		start := a.weeks.Window(e.UsedAt).Start
		perWeek[start]++

		k := itemKey{id: e.ItemID, title: e.ItemTitle, typ: e.Type}
		row, ok := items[k]
		if !ok {
			row = &ItemResetCount{ItemID: e.ItemID, ItemTitle: e.ItemTitle, Type: e.Type, FirstResetAt: e.UsedAt}
			items[k] = row
		}
		row.ResetCount++
		if e.UsedAt.Before(row.FirstResetAt) {
			row.FirstResetAt = e.UsedAt
		}
	}

	stats.ActiveWeeks = len(perWeek)
	for _, n := range perWeek {
		if n > stats.MostResetsInWeek {
			stats.MostResetsInWeek = n
		}
	}
	stats.AverageResetsPerWeek = float64(stats.TotalResetsUsed) / float64(max(1, stats.ActiveWeeks))

	ranked := make([]ItemResetCount, 0, len(items))
	for _, row := range items {
		ranked = append(ranked, *row)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ResetCount != ranked[j].ResetCount {
			return ranked[i].ResetCount > ranked[j].ResetCount
		}
		if !ranked[i].FirstResetAt.Equal(ranked[j].FirstResetAt) {
			return ranked[i].FirstResetAt.Before(ranked[j].FirstResetAt)
		}
		if ranked[i].ItemID != ranked[j].ItemID {
			return ranked[i].ItemID < ranked[j].ItemID
		}
		if ranked[i].Type != ranked[j].Type {
			return ranked[i].Type < ranked[j].Type
		}
		return ranked[i].ItemTitle < ranked[j].ItemTitle
	})
	if len(ranked) > top {
		ranked = ranked[:top]
	}
	stats.ItemsMostReset = ranked
	return stats
}
