package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/pricelens/backend/internal/domain"
)

func TestCatalogService(t *testing.T) {
	ctx := context.Background()

	seed := func() *MockProductRepository {
		repo := NewMockProductRepository()
		a := record("Jumbo", "Arroz 1 kg", "1200")
		a.Category = "Despensa"
		b := record("Lider", "Arroz Integral 1 kg", "1300")
		b.Category = "Despensa"
		c := record("Lider", "Leche Entera 1 L", "990")
		c.Category = "Lácteos"
		repo.put(a)
		repo.put(b)
		repo.put(c)
		return repo
	}

	t.Run("list applies default and validates limits", func(t *testing.T) {
		repo := seed()
		svc := NewCatalogService(repo, CatalogServiceConfig{})

		if _, err := svc.ListProducts(ctx, domain.ProductFilter{Retailer: "Lider"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repo.lastFilter.Limit != 100 || repo.lastFilter.Retailer != "Lider" {
			t.Errorf("filter = %+v", repo.lastFilter)
		}

		for _, f := range []domain.ProductFilter{{Limit: 501}, {Limit: -1}, {Skip: -1}} {
			if _, err := svc.ListProducts(ctx, f); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("filter %+v: error = %v, want ErrInvalidRequest", f, err)
			}
		}
	})

	t.Run("get by id", func(t *testing.T) {
		svc := NewCatalogService(seed(), CatalogServiceConfig{})

		rec, err := svc.GetProduct(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Name != "Arroz 1 kg" {
			t.Errorf("Name = %q", rec.Name)
		}
		if _, err := svc.GetProduct(ctx, 99); !errors.Is(err, domain.ErrProductNotFound) {
			t.Errorf("error = %v, want ErrProductNotFound", err)
		}
		if _, err := svc.GetProduct(ctx, 0); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("search", func(t *testing.T) {
		svc := NewCatalogService(seed(), CatalogServiceConfig{})

		got, err := svc.SearchProducts(ctx, "ARROZ", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
		got, err = svc.SearchProducts(ctx, "arroz", 1)
		if err != nil || len(got) != 1 {
			t.Errorf("len = %d err = %v, want 1", len(got), err)
		}
		if _, err := svc.SearchProducts(ctx, "arroz", 201); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
		if _, err := svc.SearchProducts(ctx, " ; ", 10); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("distinct values", func(t *testing.T) {
		svc := NewCatalogService(seed(), CatalogServiceConfig{})

		retailers, err := svc.Retailers(ctx)
		if err != nil || len(retailers) != 2 || retailers[0] != "Jumbo" {
			t.Errorf("retailers = %v err = %v", retailers, err)
		}
		categories, err := svc.Categories(ctx)
		if err != nil || len(categories) != 2 || categories[1] != "Lácteos" {
			t.Errorf("categories = %v err = %v", categories, err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		svc := NewCatalogService(seed(), CatalogServiceConfig{})

		stats, err := svc.Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.Total != 3 || len(stats.Retailers) != 2 {
			t.Errorf("stats = %+v", stats)
		}

		empty, err := NewCatalogService(NewMockProductRepository(), CatalogServiceConfig{}).Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if empty.Retailers == nil || empty.Total != 0 {
			t.Errorf("empty stats = %+v", empty)
		}
	})
}
