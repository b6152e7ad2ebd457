// Package feed supplies bar streams: recorded CSV files for backtests,
// a synthetic mean-reverting generator for smoke runs, and a websocket
// client for live data.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quantro/meanrev/market"
)

// Feed yields bars one at a time. Implementations are deterministic and
// return ok=false at end of stream.
type Feed interface {
	Next() (b market.Bar, ok bool, err error)
	Close() error
}

// ReadAll drains a feed into a slice.
func ReadAll(f Feed) ([]market.Bar, error) {
	defer f.Close()

	var bars []market.Bar
	for {
		b, ok, err := f.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return bars, nil
		}
		bars = append(bars, b)
	}
}

// CSVFeed reads bars from a CSV file with columns
// time,open,high,low,close,volume. A header row is detected and skipped.
type CSVFeed struct {
	f *os.File
	r *csv.Reader

	pending *market.Bar
	line    int
}

// OpenCSV opens a bar CSV file.
func OpenCSV(path string) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar csv: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	feed := &CSVFeed{f: f, r: r}

	first, err := r.Read()
	if err == io.EOF {
		return feed, nil
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	feed.line = 1

	if len(first) > 0 && strings.EqualFold(strings.TrimSpace(first[0]), "time") {
		return feed, nil
	}

	bar, err := parseBarRow(first)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("line 1: %w", err)
	}
	feed.pending = &bar
	return feed, nil
}

func (c *CSVFeed) Next() (market.Bar, bool, error) {
	if c.pending != nil {
		b := *c.pending
		c.pending = nil
		return b, true, nil
	}

	for {
		row, err := c.r.Read()
		if err == io.EOF {
			return market.Bar{}, false, nil
		}
		if err != nil {
			return market.Bar{}, false, err
		}
		c.line++
		if len(row) == 0 {
			continue
		}

		b, err := parseBarRow(row)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("line %d: %w", c.line, err)
		}
		return b, true, nil
	}
}

func (c *CSVFeed) Close() error {
	return c.f.Close()
}

func parseBarRow(row []string) (market.Bar, error) {
	if len(row) < 6 {
		return market.Bar{}, fmt.Errorf("need 6 cols time,open,high,low,close,volume, got %d", len(row))
	}

	ts := strings.TrimSpace(row[0])
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return market.Bar{}, fmt.Errorf("bad time %q: %w", row[0], err)
		}
		t = t2
	}

	var prices [4]float64
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("bad price %q: %w", row[i+1], err)
		}
		prices[i] = v
	}

	vol, err := strconv.ParseInt(strings.TrimSpace(row[5]), 10, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad volume %q: %w", row[5], err)
	}

	b := market.Bar{
		Time: t.UTC(),
		Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3],
		Volume: vol,
	}
	if err := b.Validate(); err != nil {
		return market.Bar{}, err
	}
	return b, nil
}

// SliceFeed replays an in-memory bar slice. Tests and the walk-forward
// evaluator use it.
type SliceFeed struct {
	bars []market.Bar
	i    int
}

// FromSlice wraps bars in a Feed.
func FromSlice(bars []market.Bar) *SliceFeed {
	return &SliceFeed{bars: bars}
}

func (s *SliceFeed) Next() (market.Bar, bool, error) {
	if s.i >= len(s.bars) {
		return market.Bar{}, false, nil
	}
	b := s.bars[s.i]
	s.i++
	return b, true, nil
}

func (s *SliceFeed) Close() error { return nil }
