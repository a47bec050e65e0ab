package condition

import (
	"strconv"

	"spotengine/apps/spotengine/internal/model"
)

type resolutionSource struct {
	base       string
	baseMinute int64
	multiplier int64
}

// resolutions maps a requested bar resolution (minutes) to the fetched series it is built from.
var resolutions = map[string]resolutionSource{
	"1":    {base: "1", baseMinute: 1, multiplier: 1},
	"5":    {base: "1", baseMinute: 1, multiplier: 5},
	"15":   {base: "1", baseMinute: 1, multiplier: 15},
	"30":   {base: "1", baseMinute: 1, multiplier: 30},
	"60":   {base: "60", baseMinute: 60, multiplier: 1},
	"120":  {base: "60", baseMinute: 60, multiplier: 2},
	"240":  {base: "60", baseMinute: 60, multiplier: 4},
	"360":  {base: "60", baseMinute: 60, multiplier: 6},
	"480":  {base: "60", baseMinute: 60, multiplier: 8},
	"720":  {base: "60", baseMinute: 60, multiplier: 12},
	"1440": {base: "60", baseMinute: 60, multiplier: 24},
}

// Resample returns the bars for resolution, aggregating the fetched 1m or 60m series
// when needed. Unknown resolutions are built from 1m bars. An empty resolution means "1".
func Resample(set model.CandleSet, resolution string) ([]model.Candle, bool) {
	if resolution == "" {
		resolution = "1"
	}
	src, ok := resolutions[resolution]
	if !ok {
		minutes, err := strconv.ParseInt(resolution, 10, 64)
		if err != nil || minutes <= 0 {
			return nil, false
		}
		src = resolutionSource{base: "1", baseMinute: 1, multiplier: minutes}
	}

	series := set[src.base]
	if len(series) == 0 {
		return nil, false
	}
	if src.multiplier == 1 {
		return series, true
	}
	return Aggregate(series, src.baseMinute*src.multiplier*60), true
}

// Aggregate merges bars into buckets of bucketSeconds aligned to the epoch. Timestamps
// are unix seconds.
func Aggregate(bars []model.Candle, bucketSeconds int64) []model.Candle {
	if len(bars) == 0 || bucketSeconds <= 0 {
		return nil
	}
	var out []model.Candle
	var cur model.Candle
	open := false
	for _, b := range bars {
		start := b.Timestamp / bucketSeconds * bucketSeconds
		if open && start != cur.Timestamp {
			out = append(out, cur)
			open = false
		}
		if !open {
			cur = model.Candle{Timestamp: start, Open: b.Open, High: b.High, Low: b.Low}
			open = true
		}
		cur.Close = b.Close
		if b.High > cur.High {
			cur.High = b.High
		}
		if b.Low < cur.Low {
			cur.Low = b.Low
		}
		cur.Volume += b.Volume
	}
	return append(out, cur)
}
