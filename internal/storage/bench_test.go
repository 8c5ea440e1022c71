package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/johnayoung/go-forex-centuries/internal/models"
)

// generateBenchPanel builds a panel of countries x years rows
func generateBenchPanel(countries, years int) []models.UnifiedPanelRow {
	rows := make([]models.UnifiedPanelRow, 0, countries*years)
	for c := 0; c < countries; c++ {
		country := fmt.Sprintf("Country %03d", c)
		for y := 0; y < years; y++ {
			rows = append(rows, models.UnifiedPanelRow{
				Entity:     country,
				Time:       models.YearTime(1791 + y),
				RatePerUSD: 1 + float64(c) + float64(y)/100,
				Source:     models.SourceMW,
			})
		}
	}
	return rows
}

func benchStores(b *testing.B) map[string]FullStorage {
	b.Helper()
	db, err := NewDuckDBStorage(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		b.Fatalf("NewDuckDBStorage failed: %v", err)
	}
	stores := map[string]FullStorage{"memory": NewMemoryStorage(), "duckdb": db}
	for name, s := range stores {
		if err := s.Initialize(context.Background()); err != nil {
			b.Fatalf("%s Initialize failed: %v", name, err)
		}
	}
	b.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

// BenchmarkStorePanel measures a full panel replacement, the mirror load of one build
func BenchmarkStorePanel(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	ctx := context.Background()
	rows := generateBenchPanel(40, 230)

	for name, store := range benchStores(b) {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := store.StorePanel(ctx, "bench", rows); err != nil {
					b.Fatalf("StorePanel failed: %v", err)
				}
			}

			duration := time.Duration(b.Elapsed().Nanoseconds())
			b.ReportMetric(float64(int64(b.N)*int64(len(rows)))/duration.Seconds(), "rows/sec")
		})
	}
}

// BenchmarkQueryPanel measures a single-country range query
func BenchmarkQueryPanel(b *testing.B) {
	if testing.Short() {
		b.Skip("skipping benchmark in short mode")
	}

	ctx := context.Background()
	rows := generateBenchPanel(40, 230)
	q := PanelQuery{Country: "Country 007", From: 1850, To: 1950}

	for name, store := range benchStores(b) {
		if err := store.StorePanel(ctx, "bench", rows); err != nil {
			b.Fatalf("%s StorePanel failed: %v", name, err)
		}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				got, err := store.QueryPanel(ctx, q)
				if err != nil {
					b.Fatalf("QueryPanel failed: %v", err)
				}
				if len(got) != 101 {
					b.Fatalf("expected 101 rows, got %d", len(got))
				}
			}
		})
	}
}
