package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
)

func record(retailer, name, price string) domain.ProductRecord {
	return domain.ProductRecord{
		Retailer:     retailer,
		Name:         name,
		CurrentPrice: decimal.RequireFromString(price),
		URL:          "https://" + retailer + ".example/p",
		LastUpdated:  t0,
	}
}

func TestCompare(t *testing.T) {
	t.Run("best, average and breakdown in input order", func(t *testing.T) {
		discounted := record("Lider", "Leche Entera 1 L", "950")
		discounted.DiscountPercentage = decPtr("5")
		records := []domain.ProductRecord{
			record("Jumbo", "Leche Entera 1 L", "1090"),
			discounted,
			record("Unimarc", "LECHE entera 1 l Soprole", "1000"),
		}

		got := Compare(domain.SanitizeTerm("leche entera"), records)
		if got == nil {
			t.Fatal("expected a result")
		}
		if got.ProductName != "Leche Entera 1 L" {
			t.Errorf("ProductName = %q", got.ProductName)
		}
		if !got.BestPrice.Equal(decimal.NewFromInt(950)) || got.BestRetailer != "Lider" {
			t.Errorf("best = %s at %s, want 950 at Lider", got.BestPrice, got.BestRetailer)
		}
		if !got.AveragePrice.Equal(decimal.RequireFromString("1013.33")) {
			t.Errorf("AveragePrice = %s, want 1013.33", got.AveragePrice)
		}
		if len(got.PricesByStore) != 3 {
			t.Fatalf("len(PricesByStore) = %d", len(got.PricesByStore))
		}
		for i, want := range []string{"Jumbo", "Lider", "Unimarc"} {
			if got.PricesByStore[i].Retailer != want {
				t.Errorf("PricesByStore[%d] = %s, want %s", i, got.PricesByStore[i].Retailer, want)
			}
		}
		if got.PricesByStore[0].Discount != nil || got.PricesByStore[1].Discount == nil {
			t.Error("discounts not carried through")
		}
	})

	t.Run("tie goes to the first retailer in input order", func(t *testing.T) {
		records := []domain.ProductRecord{
			record("Tottus", "Arroz 1 kg", "1200"),
			record("Unimarc", "Arroz 1 kg", "990"),
			record("Jumbo", "Arroz 1 kg", "990"),
		}
		got := Compare(domain.SanitizeTerm("arroz"), records)
		if got.BestRetailer != "Unimarc" {
			t.Errorf("BestRetailer = %s, want Unimarc", got.BestRetailer)
		}

		records[1], records[2] = records[2], records[1]
		got = Compare(domain.SanitizeTerm("arroz"), records)
		if got.BestRetailer != "Jumbo" {
			t.Errorf("BestRetailer = %s, want Jumbo", got.BestRetailer)
		}
	})

	t.Run("average rounds half away from zero", func(t *testing.T) {
		records := []domain.ProductRecord{
			record("A", "Pan", "1.00"),
			record("B", "Pan", "1.01"),
		}
		got := Compare(domain.SanitizeTerm("pan"), records)
		if !got.AveragePrice.Equal(decimal.RequireFromString("1.01")) {
			t.Errorf("AveragePrice = %s, want 1.01", got.AveragePrice)
		}

		records = append(records, record("C", "Pan", "1.00"))
		got = Compare(domain.SanitizeTerm("pan"), records)
		if !got.AveragePrice.Equal(decimal.RequireFromString("1.00")) {
			t.Errorf("AveragePrice = %s, want 1.00", got.AveragePrice)
		}
	})

	t.Run("non-matching term is absent", func(t *testing.T) {
		records := []domain.ProductRecord{record("Jumbo", "Arroz 1 kg", "1200")}
		if got := Compare(domain.SanitizeTerm("nonexistent term"), records); got != nil {
			t.Errorf("got %+v, want nil", got)
		}
	})

	t.Run("records without usable price are skipped", func(t *testing.T) {
		records := []domain.ProductRecord{
			record("Jumbo", "Arroz 1 kg", "0"),
			record("Lider", "Arroz 1 kg", "1100"),
		}
		got := Compare(domain.SanitizeTerm("arroz"), records)
		if got == nil || len(got.PricesByStore) != 1 || got.BestRetailer != "Lider" {
			t.Errorf("got %+v", got)
		}

		if got := Compare(domain.SanitizeTerm("arroz"), records[:1]); got != nil {
			t.Errorf("got %+v, want nil", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := Compare(domain.SanitizeTerm("arroz"), nil); got != nil {
			t.Errorf("got %+v, want nil", got)
		}
	})

	t.Run("metacharacters match literally", func(t *testing.T) {
		records := []domain.ProductRecord{
			record("Jumbo", "Chocolate 70% cacao", "2500"),
			record("Lider", "Chocolate 700 g", "3000"),
		}
		got := Compare(domain.SanitizeTerm("70%"), records)
		if got == nil || len(got.PricesByStore) != 1 || got.BestRetailer != "Jumbo" {
			t.Errorf("got %+v", got)
		}
	})
}

func TestComparisonService_Compare(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(2 * time.Hour)

	newService := func(repo *MockProductRepository, cache *MockCacheRepository) *ComparisonService {
		var c domain.CacheRepository
		if cache != nil {
			c = cache
		}
		svc := NewComparisonService(repo, c, quietLogger(), ComparisonServiceConfig{
			FreshnessWindow: 24 * time.Hour,
			CacheTTL:        time.Minute,
		})
		svc.now = func() time.Time { return now }
		return svc
	}

	t.Run("compares records inside the freshness window", func(t *testing.T) {
		repo := NewMockProductRepository()
		repo.put(record("Jumbo", "Arroz 1 kg", "1200"))
		old := record("Lider", "Arroz 1 kg", "500")
		old.LastUpdated = now.Add(-25 * time.Hour)
		repo.put(old)

		svc := newService(repo, NewMockCacheRepository())
		got, err := svc.Compare(ctx, "Arroz")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.BestRetailer != "Jumbo" || len(got.PricesByStore) != 1 {
			t.Errorf("got %+v", got)
		}
		if !repo.lastSince.Equal(now.Add(-24 * time.Hour)) {
			t.Errorf("since = %v", repo.lastSince)
		}
	})

	t.Run("no recent products", func(t *testing.T) {
		svc := newService(NewMockProductRepository(), NewMockCacheRepository())
		_, err := svc.Compare(ctx, "arroz")
		if !errors.Is(err, domain.ErrNoRecentProducts) {
			t.Errorf("error = %v, want ErrNoRecentProducts", err)
		}
	})

	t.Run("blank term is invalid", func(t *testing.T) {
		svc := newService(NewMockProductRepository(), nil)
		_, err := svc.Compare(ctx, "  ;-- ")
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("storage failure is distinguished from no data", func(t *testing.T) {
		repo := NewMockProductRepository()
		repo.matchingErr = domain.NewTransientStorageError("find matching", errors.New("timeout"))
		svc := newService(repo, nil)

		_, err := svc.Compare(ctx, "arroz")
		if !domain.IsTransient(err) || errors.Is(err, domain.ErrNoRecentProducts) {
			t.Errorf("error = %v, want transient", err)
		}
	})

	t.Run("second call is served from cache", func(t *testing.T) {
		repo := NewMockProductRepository()
		repo.put(record("Jumbo", "Arroz 1 kg", "1200"))
		cache := NewMockCacheRepository()
		svc := newService(repo, cache)

		first, err := svc.Compare(ctx, "arroz")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := svc.Compare(ctx, "ARROZ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.matchingHits != 1 {
			t.Errorf("FindMatching calls = %d, want 1", repo.matchingHits)
		}
		if !cache.setCalled {
			t.Error("expected cache.Set to be called")
		}
		if !second.BestPrice.Equal(first.BestPrice) || second.BestRetailer != first.BestRetailer {
			t.Errorf("cached result differs: %+v vs %+v", second, first)
		}
	})

	t.Run("cache write failure does not fail the query", func(t *testing.T) {
		repo := NewMockProductRepository()
		repo.put(record("Jumbo", "Arroz 1 kg", "1200"))
		cache := NewMockCacheRepository()
		cache.setError = errors.New("cache full")

		if _, err := newService(repo, cache).Compare(ctx, "arroz"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("cancelled scan returns no result", func(t *testing.T) {
		repo := NewMockProductRepository()
		repo.put(record("Jumbo", "Arroz 1 kg", "1200"))
		repo.put(record("Lider", "Arroz 1 kg", "1100"))
		cache := NewMockCacheRepository()
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		repo.onMatching = cancel

		got, err := newService(repo, cache).Compare(cctx, "arroz")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if got != nil {
			t.Errorf("result = %+v, want nil", got)
		}
		if cache.setCalled {
			t.Error("cancelled comparison must not be cached")
		}
	})
}

func TestComparisonService_InvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	now := t0.Add(2 * time.Hour)

	repo := NewMockProductRepository()
	cache := NewMockCacheRepository()
	comparison := NewComparisonService(repo, cache, quietLogger(), ComparisonServiceConfig{
		FreshnessWindow: 24 * time.Hour,
		CacheTTL:        time.Minute,
	})
	comparison.now = func() time.Time { return now }

	ingestion := NewIngestionService(repo, quietLogger(), IngestionServiceConfig{Workers: 1})
	ingestion.SetInvalidator(comparison)
	retention := NewRetentionService(repo, quietLogger())
	retention.SetInvalidator(comparison)

	if _, err := ingestion.Ingest(ctx, observation("1000", t0)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	first, err := comparison.Compare(ctx, "leche")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.BestPrice.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("best price = %s, want 1000", first.BestPrice)
	}

	t.Run("replayed observation keeps the cached result", func(t *testing.T) {
		hits := repo.matchingHits
		res, err := ingestion.Ingest(ctx, observation("1000", t0))
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if res.Outcome != domain.OutcomeUnchanged {
			t.Fatalf("outcome = %v, want unchanged", res.Outcome)
		}
		if _, err := comparison.Compare(ctx, "leche"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.matchingHits != hits {
			t.Errorf("FindMatching calls = %d, want %d", repo.matchingHits, hits)
		}
	})

	t.Run("update is visible immediately", func(t *testing.T) {
		res, err := ingestion.Ingest(ctx, observation("800", t0.Add(time.Hour)))
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
		if res.Outcome != domain.OutcomeUpdated {
			t.Fatalf("outcome = %v, want updated", res.Outcome)
		}

		got, err := comparison.Compare(ctx, "leche")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.BestPrice.Equal(decimal.NewFromInt(800)) {
			t.Errorf("best price = %s, want 800", got.BestPrice)
		}
	})

	t.Run("swept records are no longer compared", func(t *testing.T) {
		removed, err := retention.Sweep(ctx, t0.AddDate(0, 0, 10), 1)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if removed != 1 {
			t.Fatalf("removed = %d, want 1", removed)
		}

		_, err = comparison.Compare(ctx, "leche")
		if !errors.Is(err, domain.ErrNoRecentProducts) {
			t.Errorf("error = %v, want ErrNoRecentProducts", err)
		}
	})
}
