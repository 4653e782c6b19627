package bars

import (
	"fmt"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/marketgps/core/internal/domain"
)

const frameVersion = 1

// columnFrame is the on-disk layout: parallel columns, one entry per day,
// ascending. AdjClose uses NaN for absent values so the column stays dense.
type columnFrame struct {
	Version  int       `msgpack:"version"`
	AssetID  string    `msgpack:"asset_id"`
	Dates    []int64   `msgpack:"dates"` // unix seconds at UTC midnight
	Open     []float64 `msgpack:"open"`
	High     []float64 `msgpack:"high"`
	Low      []float64 `msgpack:"low"`
	Close    []float64 `msgpack:"close"`
	Volume   []int64   `msgpack:"volume"`
	AdjClose []float64 `msgpack:"adj_close"`
}

func encodeFrame(assetID string, series domain.BarSeries) ([]byte, error) {
	n := len(series)
	frame := columnFrame{
		Version:  frameVersion,
		AssetID:  assetID,
		Dates:    make([]int64, n),
		Open:     make([]float64, n),
		High:     make([]float64, n),
		Low:      make([]float64, n),
		Close:    make([]float64, n),
		Volume:   make([]int64, n),
		AdjClose: make([]float64, n),
	}

	for i, b := range series {
		frame.Dates[i] = domain.Day(b.Date).Unix()
		frame.Open[i] = b.Open
		frame.High[i] = b.High
		frame.Low[i] = b.Low
		frame.Close[i] = b.Close
		frame.Volume[i] = b.Volume
		if b.AdjClose != nil {
			frame.AdjClose[i] = *b.AdjClose
		} else {
			frame.AdjClose[i] = math.NaN()
		}
	}

	raw, err := msgpack.Marshal(&frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bar frame for %s: %w", assetID, err)
	}
	return raw, nil
}

func decodeFrame(raw []byte) (string, domain.BarSeries, error) {
	var frame columnFrame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return "", nil, fmt.Errorf("failed to decode bar frame: %w", err)
	}
	if frame.Version != frameVersion {
		return "", nil, fmt.Errorf("unsupported bar frame version %d", frame.Version)
	}

	n := len(frame.Dates)
	if len(frame.Open) != n || len(frame.High) != n || len(frame.Low) != n ||
		len(frame.Close) != n || len(frame.Volume) != n || len(frame.AdjClose) != n {
		return "", nil, fmt.Errorf("corrupt bar frame for %s: ragged columns", frame.AssetID)
	}

	series := make(domain.BarSeries, n)
	for i := 0; i < n; i++ {
		bar := domain.Bar{
			Date:   time.Unix(frame.Dates[i], 0).UTC(),
			Open:   frame.Open[i],
			High:   frame.High[i],
			Low:    frame.Low[i],
			Close:  frame.Close[i],
			Volume: frame.Volume[i],
		}
		if !math.IsNaN(frame.AdjClose[i]) {
			adj := frame.AdjClose[i]
			bar.AdjClose = &adj
		}
		series[i] = bar
	}

	return frame.AssetID, series, nil
}
