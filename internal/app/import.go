package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wolkeposter/pkg/domain"
)

// ImportResult summarizes a CSV product import. Failed counts rows that
// were read but produced no product.
type ImportResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ImportProducts reads a product CSV and bulk-inserts the rows for the
// caller. Headers are matched case-insensitively; recognized columns
// are name, price and image_path (image also accepted). A row without a
// name is counted as failed, a row with an unparseable price imports
// with price zero.
func (a *App) ImportProducts(user domain.User, r io.Reader) (ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return ImportResult{}, nil
	}
	if err != nil {
		return ImportResult{}, fmt.Errorf("read csv header: %w", err)
	}
	cols := columnIndex(header)
	nameIdx, ok := cols["name"]
	if !ok {
		return ImportResult{}, fmt.Errorf("csv has no name column")
	}
	priceIdx, hasPrice := cols["price"]
	imageIdx, hasImage := cols["image_path"]
	if !hasImage {
		imageIdx, hasImage = cols["image"]
	}

	var result ImportResult
	now := time.Now().UTC()
	products := make([]domain.Product, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Processed++
			result.Failed++
			continue
		}
		result.Processed++

		name := strings.TrimSpace(field(record, nameIdx))
		if name == "" {
			result.Failed++
			continue
		}
		var price float64
		if hasPrice {
			raw := strings.TrimSpace(field(record, priceIdx))
			raw = strings.ReplaceAll(raw, ",", ".")
			if raw != "" {
				if v, err := strconv.ParseFloat(raw, 64); err == nil {
					price = v
				}
			}
		}
		product := domain.Product{
			ID:        newEntityID(),
			OwnerID:   user.ID,
			Name:      name,
			Price:     price,
			CreatedAt: now,
		}
		if hasImage {
			product.ImagePath = strings.TrimSpace(field(record, imageIdx))
		}
		products = append(products, product)
		result.Succeeded++
	}

	if len(products) > 0 {
		if err := a.store.BulkSaveProducts(products); err != nil {
			return ImportResult{}, fmt.Errorf("bulk save products: %w", err)
		}
	}
	slog.Info("product import complete", "owner_id", user.ID,
		"processed", result.Processed, "succeeded", result.Succeeded, "failed", result.Failed)
	return result, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if h == "" {
			continue
		}
		if _, exists := cols[h]; !exists {
			cols[h] = i
		}
	}
	return cols
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}
