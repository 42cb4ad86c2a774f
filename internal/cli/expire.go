package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ferrybox/historydb/internal/config"
	"github.com/ferrybox/historydb/internal/history"
)

// expireResult summarizes one expiry run.
type expireResult struct {
	VisitsDeleted int  `json:"visits_deleted"`
	URLsDeleted   int  `json:"urls_deleted"`
	URLsUpdated   int  `json:"urls_updated"`
	DryRun        bool `json:"dry_run"`
}

// Execute implements the go-flags Commander interface for ExpireCommand.
func (c *ExpireCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	retention := time.Duration(cfg.Expiry.RetentionDays) * 24 * time.Hour
	if c.OlderThan != "" {
		retention, err = parseDuration(c.OlderThan)
		if err != nil {
			return err
		}
	}
	cutoff := time.Now().Add(-retention)

	ctx := context.Background()
	db := c.db
	if db == nil {
		db, err = openDatabase(ctx, cfg, c.globals)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	sensitiveHosts := cfg.Expiry.SensitiveHosts
	if c.Sensitive && len(sensitiveHosts) == 0 {
		sensitiveHosts = config.DefaultSensitiveHosts()
	}

	result, err := c.expire(ctx, db, cutoff, sensitiveHosts)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(result)
	}
	verb := "Deleted"
	if c.DryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %d visits; %d URLs removed, %d URLs updated.\n",
		verb, result.VisitsDeleted, result.URLsDeleted, result.URLsUpdated)
	return nil
}

// expire deletes visits older than cutoff (plus, with --sensitive, every
// visit to a sensitive host) and repairs the denormalized URL aggregates
// the deleted visits fed. The whole sweep runs in one transaction.
func (c *ExpireCommand) expire(ctx context.Context, db *history.Database, cutoff time.Time, sensitiveHosts []string) (*expireResult, error) {
	victims, _, err := db.Visits.GetAllVisitsInRange(ctx, history.QueryOptions{End: cutoff})
	if err != nil {
		return nil, err
	}

	urlRows := make(map[int64]*history.URLRow)
	rowFor := func(id int64) (*history.URLRow, error) {
		if row, ok := urlRows[id]; ok {
			return row, nil
		}
		row, err := db.URLs.GetURLRow(ctx, id)
		if err != nil {
			return nil, err
		}
		urlRows[id] = row
		return row, nil
	}

	if c.Sensitive && len(sensitiveHosts) > 0 {
		all, _, err := db.Visits.GetAllVisitsInRange(ctx, history.QueryOptions{Begin: cutoff})
		if err != nil {
			return nil, err
		}
		for _, v := range all {
			row, err := rowFor(v.URLID)
			if err != nil {
				return nil, err
			}
			if row != nil && hostIsSensitive(row.URL, sensitiveHosts) {
				victims = append(victims, v)
			}
		}
	} else if c.Sensitive {
		return nil, fmt.Errorf("no sensitive hosts configured")
	}

	// The two sweeps cover disjoint half-open ranges, so victims holds no
	// duplicates.
	result := &expireResult{DryRun: c.DryRun}
	touched := make(map[int64]struct{})
	for _, v := range victims {
		touched[v.URLID] = struct{}{}
	}
	result.VisitsDeleted = len(victims)

	if c.DryRun {
		for id := range touched {
			total, _, err := db.Visits.CountVisitsForURL(ctx, id)
			if err != nil {
				return nil, err
			}
			// Every remaining visit being a victim means the row would go.
			if total <= countVictims(victims, id) {
				result.URLsDeleted++
			} else {
				result.URLsUpdated++
			}
		}
		return result, nil
	}

	if err := db.BeginTransaction(ctx); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = db.RollbackTransaction(ctx)
		}
	}()

	for i := range victims {
		v := &victims[i]
		db.Annotations.DeleteAnnotationsForVisit(ctx, v.ID)
		if err := db.Visits.DeleteVisit(ctx, v); err != nil {
			return nil, err
		}
	}

	for id := range touched {
		total, typed, err := db.Visits.CountVisitsForURL(ctx, id)
		if err != nil {
			return nil, err
		}
		row, err := rowFor(id)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		if total == 0 {
			if err := db.URLs.DeleteURLRow(ctx, id); err != nil {
				return nil, err
			}
			if err := db.VisitedLinks.DeleteVisitedLinksForURL(ctx, id); err != nil {
				return nil, err
			}
			result.URLsDeleted++
			continue
		}
		last, err := db.Visits.GetMostRecentVisitForURL(ctx, id)
		if err != nil {
			return nil, err
		}
		row.VisitCount = total
		row.TypedCount = typed
		if last != nil {
			row.LastVisit = last.VisitTime
		}
		if err := db.URLs.UpdateURLRow(ctx, row); err != nil {
			return nil, err
		}
		result.URLsUpdated++
	}

	if err := db.CommitTransaction(ctx); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

func countVictims(victims []history.VisitRow, urlID int64) int {
	n := 0
	for _, v := range victims {
		if v.URLID == urlID {
			n++
		}
	}
	return n
}

// hostIsSensitive reports whether rawURL's host matches any sensitive host
// exactly or as a parent domain.
func hostIsSensitive(rawURL string, hosts []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
