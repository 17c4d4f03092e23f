package reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pteich/elastic-search-reader/config"
)

const dateLayout = "2006-01-02"

// parseDateExpr resolves a relative or absolute date expression. Supported
// forms: "today", "yesterday", "N_days_ago" and absolute "2006-01-02".
func parseDateExpr(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))

	switch expr {
	case "", "today":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	}

	if n, ok := strings.CutSuffix(expr, "_days_ago"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days < 0 {
			return time.Time{}, &config.Error{Field: "start_date/end_date", Reason: fmt.Sprintf("invalid relative date %q", expr)}
		}
		return now.AddDate(0, 0, -days), nil
	}

	t, err := time.Parse(dateLayout, expr)
	if err != nil {
		return time.Time{}, &config.Error{Field: "start_date/end_date", Reason: fmt.Sprintf("invalid date %q", expr)}
	}

	return t, nil
}

// dateRange expands the configured window into one date string per interval
// step, end inclusive.
func dateRange(startExpr, endExpr, interval string) ([]string, error) {
	if interval != "day" {
		return nil, &config.Error{Field: "interval", Reason: fmt.Sprintf("unsupported interval %q, expecting day", interval)}
	}

	now := time.Now()

	start, err := parseDateExpr(startExpr, now)
	if err != nil {
		return nil, err
	}
	end, err := parseDateExpr(endExpr, now)
	if err != nil {
		return nil, err
	}

	start = midnight(start)
	end = midnight(end)

	if end.Before(start) {
		return nil, &config.Error{Field: "end_date", Reason: "end date is before start date"}
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}

	return dates, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// compactDate turns 2006-01-02 into 20060102 for write paths.
func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}
