package universe

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/marketgps/core/internal/domain"
)

// ImportCSV bootstraps universe rows from an operator-supplied CSV file
// (air-gapped environments, no provider access). Rows default to tier 3
// inactive unless the file specifies a tier. Returns the upserted count.
func (r *Repository) ImportCSV(path string, scope domain.MarketScope) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open CSV %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["symbol"]; !ok {
		return 0, fmt.Errorf("CSV is missing the symbol column")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var assets []domain.Asset
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		symbol := strings.ToUpper(field(row, "symbol"))
		if symbol == "" {
			continue
		}
		exchange := strings.ToUpper(field(row, "exchange"))
		if exchange == "" {
			exchange = "US"
		}

		tier := 3
		if t := field(row, "tier"); t != "" {
			if parsed, err := strconv.Atoi(t); err == nil && parsed >= 1 && parsed <= 4 {
				tier = parsed
			}
		}

		assetID := symbol + "." + exchange
		if !domain.ValidAssetID(assetID) {
			r.log.Warn().Str("asset_id", assetID).Int("line", line).Msg("Skipping invalid CSV row")
			continue
		}

		assets = append(assets, domain.Asset{
			AssetID:      assetID,
			Symbol:       symbol,
			Name:         field(row, "name"),
			AssetType:    domain.ParseAssetType(field(row, "type")),
			MarketScope:  scope,
			MarketCode:   exchange,
			ExchangeCode: exchange,
			Currency:     strings.ToUpper(field(row, "currency")),
			Country:      field(row, "country"),
			Sector:       field(row, "sector"),
			Industry:     field(row, "industry"),
			Tier:         tier,
			Active:       tier <= 2,
		})
	}

	if len(assets) == 0 {
		return 0, fmt.Errorf("CSV %s contained no usable rows", path)
	}
	return r.BulkUpsert(assets)
}
