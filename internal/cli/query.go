package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ferrybox/historydb/internal/history"
)

// visitJSON is one result row in the query command's JSON output.
type visitJSON struct {
	VisitID   int64  `json:"visit_id"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	VisitTime string `json:"visit_time"`
	Typed     bool   `json:"typed"`
}

type queryJSON struct {
	Visits  []visitJSON `json:"visits"`
	Limited bool        `json:"limited"`
}

// Execute implements the go-flags Commander interface for QueryCommand.
func (c *QueryCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	db := c.db
	ctx := context.Background()
	if db == nil {
		db, err = openDatabase(ctx, cfg, c.globals)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	opts := history.QueryOptions{MaxCount: c.Limit}
	if opts.MaxCount == 0 {
		opts.MaxCount = cfg.Query.DefaultLimit
	}

	if c.Since != "" {
		d, err := parseDuration(c.Since)
		if err != nil {
			return err
		}
		opts.Begin = time.Now().Add(-d)
	}
	if c.Until != "" {
		d, err := parseDuration(c.Until)
		if err != nil {
			return err
		}
		opts.End = time.Now().Add(-d)
	}

	switch c.Order {
	case "", "recent":
		opts.Order = history.OrderRecentFirst
	case "oldest":
		opts.Order = history.OrderOldestFirst
	default:
		return fmt.Errorf("invalid order: %q (use recent or oldest)", c.Order)
	}

	dedup := c.Dedup
	if dedup == "" {
		dedup = cfg.Query.Dedup
	}
	opts.DuplicatePolicy, err = dedupPolicy(dedup)
	if err != nil {
		return err
	}

	var visits []history.VisitRow
	var limited bool
	if c.URL != "" {
		row, err := db.URLs.GetRowForURL(ctx, c.URL)
		if err != nil {
			return err
		}
		if row == nil {
			visits = nil
		} else {
			visits, limited, err = db.Visits.GetVisibleVisitsForURL(ctx, row.ID, opts)
			if err != nil {
				return err
			}
		}
	} else {
		visits, limited, err = db.Visits.GetVisibleVisitsInRange(ctx, opts)
		if err != nil {
			return err
		}
	}

	// One URL row lookup per distinct URL id; result sets are capped, so
	// a simple cache is enough.
	urls := make(map[int64]*history.URLRow)
	rowFor := func(id int64) (*history.URLRow, error) {
		if row, ok := urls[id]; ok {
			return row, nil
		}
		row, err := db.URLs.GetURLRow(ctx, id)
		if err != nil {
			return nil, err
		}
		urls[id] = row
		return row, nil
	}

	if c.globals != nil && c.globals.JSON {
		out := queryJSON{Limited: limited, Visits: make([]visitJSON, 0, len(visits))}
		for _, v := range visits {
			row, err := rowFor(v.URLID)
			if err != nil {
				return err
			}
			entry := visitJSON{
				VisitID:   v.ID,
				VisitTime: v.VisitTime.UTC().Format(time.RFC3339),
				Typed:     v.Transition.CoreType() == history.TransitionTyped,
			}
			if row != nil {
				entry.URL = row.URL
				entry.Title = row.Title
			}
			out.Visits = append(out.Visits, entry)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(visits) == 0 {
		fmt.Println("No visits found.")
		return nil
	}
	for _, v := range visits {
		row, err := rowFor(v.URLID)
		if err != nil {
			return err
		}
		url, title := "(deleted)", ""
		if row != nil {
			url, title = row.URL, row.Title
		}
		if title != "" {
			fmt.Printf("%s  %s  %s\n", v.VisitTime.Local().Format("2006-01-02 15:04"), url, title)
		} else {
			fmt.Printf("%s  %s\n", v.VisitTime.Local().Format("2006-01-02 15:04"), url)
		}
	}
	if limited {
		fmt.Println("(results truncated; raise --limit to see more)")
	}
	return nil
}
