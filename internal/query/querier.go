// Package query reads the window history archived in ClickHouse.
package query

import (
	"context"
	"strings"
	"time"

	"Go2NetMon/internal/archive"
	"Go2NetMon/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cockroachdb/errors"
)

// HistoryFilter narrows a history query. Zero values are unbounded.
type HistoryFilter struct {
	From           time.Time
	To             time.Time
	Label          string
	MinAttackFlows int64
	Limit          int
}

// HistoryPoint is one archived window.
type HistoryPoint struct {
	WindowID     string           `json:"window_id"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	TotalFlows   int64            `json:"total_flows"`
	AttackFlows  int64            `json:"attack_flows"`
	UnknownFlows int64            `json:"unknown_flows"`
	LabelCounts  map[string]int64 `json:"attacks_per_label"`
}

// LabelTotal is the flow count of one label summed over a range.
type LabelTotal struct {
	Label string `json:"label"`
	Flows int64  `json:"flows"`
}

// Querier defines the interface for querying archived windows.
type Querier interface {
	History(ctx context.Context, f HistoryFilter) ([]HistoryPoint, error)
	LabelTotals(ctx context.Context, from, to time.Time) ([]LabelTotal, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn driver.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(ctx context.Context, cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := archive.Connect(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}
	return &clickhouseQuerier{conn: conn}, nil
}

// timeRange appends the start-time bounds shared by every query.
func timeRange(where []string, args []any, from, to time.Time) ([]string, []any) {
	if !from.IsZero() {
		where = append(where, "StartTime >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		where = append(where, "StartTime < ?")
		args = append(args, to.UTC())
	}
	return where, args
}

func buildHistoryQuery(f HistoryFilter) (string, []any) {
	var qb strings.Builder
	qb.WriteString(`
		SELECT WindowID, StartTime, EndTime, TotalFlows, AttackFlows, UnknownFlows, LabelCounts
		FROM ` + archive.HistoryTable + ` FINAL`)

	var where []string
	var args []any
	where, args = timeRange(where, args, f.From, f.To)
	if f.Label != "" {
		where = append(where, "LabelCounts[?] > 0")
		args = append(args, f.Label)
	}
	if f.MinAttackFlows > 0 {
		where = append(where, "AttackFlows >= ?")
		args = append(args, f.MinAttackFlows)
	}
	if len(where) > 0 {
		qb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	qb.WriteString(" ORDER BY StartTime ASC")
	if f.Limit > 0 {
		qb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	return qb.String(), args
}

func buildLabelTotalsQuery(from, to time.Time) (string, []any) {
	var qb strings.Builder
	qb.WriteString(`
		SELECT Label, sum(Flows) AS Flows
		FROM ` + archive.HistoryTable + ` FINAL
		ARRAY JOIN mapKeys(LabelCounts) AS Label, mapValues(LabelCounts) AS Flows`)

	where, args := timeRange(nil, nil, from, to)
	if len(where) > 0 {
		qb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	qb.WriteString(" GROUP BY Label ORDER BY Flows DESC, Label ASC")
	return qb.String(), args
}

// History lists archived windows oldest first.
func (q *clickhouseQuerier) History(ctx context.Context, f HistoryFilter) ([]HistoryPoint, error) {
	query, args := buildHistoryQuery(f)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var points []HistoryPoint
	for rows.Next() {
		var p HistoryPoint
		if err := rows.Scan(&p.WindowID, &p.StartTime, &p.EndTime, &p.TotalFlows,
			&p.AttackFlows, &p.UnknownFlows, &p.LabelCounts); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		points = append(points, p)
	}
	return points, errors.Wrap(rows.Err(), "failed to iterate history rows")
}

// LabelTotals sums flows per label over the range, largest first.
func (q *clickhouseQuerier) LabelTotals(ctx context.Context, from, to time.Time) ([]LabelTotal, error) {
	query, args := buildLabelTotalsQuery(from, to)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	var totals []LabelTotal
	for rows.Next() {
		var lt LabelTotal
		if err := rows.Scan(&lt.Label, &lt.Flows); err != nil {
			return nil, errors.Wrap(err, "failed to scan label total")
		}
		totals = append(totals, lt)
	}
	return totals, errors.Wrap(rows.Err(), "failed to iterate label totals")
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}
