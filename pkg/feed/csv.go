package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rlvgl/backtide/pkg/types"
)

// CSVFeed reads OHLCV bars for one symbol from a local CSV file.
// Expected columns: timestamp,open,high,low,close,volume[,amount].
// The timestamp is RFC 3339 or a date (2006-01-02). An optional
// header row is skipped.
type CSVFeed struct {
	*InMemoryFeed
}

// NewCSVFeed loads the file eagerly; historical files are small
// enough that streaming buys nothing and eager validation surfaces
// malformed rows when the run is assembled rather than mid-run.
func NewCSVFeed(path, symbol string) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv feed: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var bars []*types.Bar
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("%s:%d: expected at least 6 columns, got %d", path, line, len(record))
		}
		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				// Header row
				continue
			}
			return nil, fmt.Errorf("%s:%d: bad timestamp %q", path, line, record[0])
		}

		bar := &types.Bar{Symbol: symbol, Timestamp: ts}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		if len(record) > 6 {
			fields = append(fields, &bar.Amount)
		}
		for i, dst := range fields {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad value %q", path, line, record[i+1])
			}
			*dst = v
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: no bars", path)
	}
	return &CSVFeed{InMemoryFeed: NewInMemoryFeed(bars)}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
