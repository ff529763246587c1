// Package storagetest holds the behaviour every domain.ProductRepository must share.
// Each backend runs it from its own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty repository. It must register its own cleanup.
type Factory func(t *testing.T) domain.ProductRepository

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// Record builds a valid record for tests.
func Record(retailer, name, price string, updated time.Time) *domain.ProductRecord {
	return &domain.ProductRecord{
		Retailer:     retailer,
		Name:         name,
		CurrentPrice: dec(price),
		URL:          "https://example.com/" + retailer,
		FirstSeen:    updated,
		LastUpdated:  updated,
	}
}

// Insert stores rec through a unit of work and returns it with its ID set.
func Insert(t *testing.T, repo domain.ProductRepository, rec *domain.ProductRecord) *domain.ProductRecord {
	t.Helper()
	err := repo.WithIdentity(context.Background(), rec.Identity(), func(ctx context.Context, store domain.ProductStore) error {
		return store.Create(ctx, rec)
	})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	return rec
}

// Run executes the repository contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("create and find by identity", func(t *testing.T) { testCreateAndFind(t, newRepo(t)) })
	t.Run("update", func(t *testing.T) { testUpdate(t, newRepo(t)) })
	t.Run("failed unit of work keeps nothing", func(t *testing.T) { testRollback(t, newRepo(t)) })
	t.Run("same identity serializes", func(t *testing.T) { testSameIdentitySerializes(t, newRepo(t)) })
	t.Run("delete older than", func(t *testing.T) { testDeleteOlderThan(t, newRepo(t)) })
	t.Run("delete many", func(t *testing.T) { testDeleteMany(t, newRepo(t)) })
	t.Run("cancelled sweep keeps earlier deletions", func(t *testing.T) { testSweepCancelled(t, newRepo(t)) })
	t.Run("find matching", func(t *testing.T) { testFindMatching(t, newRepo(t)) })
	t.Run("search", func(t *testing.T) { testSearch(t, newRepo(t)) })
	t.Run("list distinct", func(t *testing.T) { testListDistinct(t, newRepo(t)) })
	t.Run("get by id", func(t *testing.T) { testGetByID(t, newRepo(t)) })
	t.Run("list", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("count by retailer", func(t *testing.T) { testCountByRetailer(t, newRepo(t)) })
	t.Run("ping", func(t *testing.T) { assert.NoError(t, newRepo(t).Ping(context.Background())) })
}

func testCreateAndFind(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	rec := Record("Jumbo", "Leche Entera 1 L", "1090.50", base)
	rec.Brand = "Colun"
	rec.Category = "Lácteos"
	rec.Presentation = "1 l"
	rec.PreviousPrice = decPtr("1290")
	rec.DiscountPercentage = decPtr("15.47")
	rec.ImageURL = "https://img.example.com/1.png"
	rec.FirstSeen = base.Add(-time.Hour)
	Insert(t, repo, rec)

	var found *domain.ProductRecord
	err := repo.WithIdentity(ctx, domain.NewIdentity("Jumbo", "Leche Entera 1 L"), func(ctx context.Context, store domain.ProductStore) error {
		var err error
		found, err = store.FindByIdentity(ctx, domain.NewIdentity("Jumbo", "Leche Entera 1 L"))
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, rec.ID, found.ID)
	assert.Equal(t, "Colun", found.Brand)
	assert.Equal(t, "Lácteos", found.Category)
	assert.Equal(t, "1 l", found.Presentation)
	assert.True(t, found.CurrentPrice.Equal(dec("1090.50")), "current %s", found.CurrentPrice)
	require.NotNil(t, found.PreviousPrice)
	assert.True(t, found.PreviousPrice.Equal(dec("1290")))
	require.NotNil(t, found.DiscountPercentage)
	assert.True(t, found.DiscountPercentage.Equal(dec("15.47")))
	assert.Equal(t, rec.URL, found.URL)
	assert.Equal(t, rec.ImageURL, found.ImageURL)
	assert.True(t, found.FirstSeen.Equal(rec.FirstSeen), "first seen %v", found.FirstSeen)
	assert.True(t, found.LastUpdated.Equal(base), "last updated %v", found.LastUpdated)

	// identity is case-sensitive
	err = repo.WithIdentity(ctx, domain.NewIdentity("Jumbo", "leche entera 1 l"), func(ctx context.Context, store domain.ProductStore) error {
		other, err := store.FindByIdentity(ctx, domain.NewIdentity("Jumbo", "leche entera 1 l"))
		assert.Nil(t, other)
		return err
	})
	require.NoError(t, err)
}

func testUpdate(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	rec := Insert(t, repo, Record("Lider", "Arroz 1 kg", "1200", base))

	rec.PreviousPrice = decPtr("1200")
	rec.CurrentPrice = dec("990")
	rec.DiscountPercentage = decPtr("17.5")
	rec.LastUpdated = base.Add(time.Hour)
	err := repo.WithIdentity(ctx, rec.Identity(), func(ctx context.Context, store domain.ProductStore) error {
		return store.Update(ctx, rec)
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(dec("990")))
	assert.True(t, got.PreviousPrice.Equal(dec("1200")))
	assert.True(t, got.LastUpdated.Equal(base.Add(time.Hour)))
	assert.True(t, got.FirstSeen.Equal(base))

	// clearing optional prices
	rec.PreviousPrice = nil
	rec.DiscountPercentage = nil
	err = repo.WithIdentity(ctx, rec.Identity(), func(ctx context.Context, store domain.ProductStore) error {
		return store.Update(ctx, rec)
	})
	require.NoError(t, err)
	got, err = repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PreviousPrice)
	assert.Nil(t, got.DiscountPercentage)
}

func testRollback(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	boom := errors.New("boom")

	rec := Record("Tottus", "Fideos 400 g", "590", base)
	err := repo.WithIdentity(ctx, rec.Identity(), func(ctx context.Context, store domain.ProductStore) error {
		if err := store.Create(ctx, rec); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := repo.List(ctx, domain.ProductFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, list)

	existing := Insert(t, repo, Record("Tottus", "Fideos 400 g", "590", base))
	err = repo.WithIdentity(ctx, existing.Identity(), func(ctx context.Context, store domain.ProductStore) error {
		changed := *existing
		changed.CurrentPrice = dec("1")
		if err := store.Update(ctx, &changed); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(dec("590")), "price %s", got.CurrentPrice)
}

// testSameIdentitySerializes runs read-modify-write increments concurrently; lost updates
// would leave the counter short.
func testSameIdentitySerializes(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	id := domain.NewIdentity("Jumbo", "Contador")
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.WithIdentity(ctx, id, func(ctx context.Context, store domain.ProductStore) error {
				rec, err := store.FindByIdentity(ctx, id)
				if err != nil {
					return err
				}
				if rec == nil {
					return store.Create(ctx, Record(id.Retailer, id.Name, "1", base))
				}
				rec.CurrentPrice = rec.CurrentPrice.Add(decimal.NewFromInt(1))
				return store.Update(ctx, rec)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := repo.Search(ctx, domain.SanitizeTerm("Contador"), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CurrentPrice.Equal(decimal.NewFromInt(workers)), "price %s", list[0].CurrentPrice)
}

func testDeleteOlderThan(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	now := base

	old := Insert(t, repo, Record("Jumbo", "Arroz 1 kg", "1200", now.AddDate(0, 0, -31)))
	fresh := Insert(t, repo, Record("Lider", "Arroz 1 kg", "1100", now.AddDate(0, 0, -1)))
	edge := Insert(t, repo, Record("Tottus", "Arroz 1 kg", "1150", now.AddDate(0, 0, -30)))

	removed, err := repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = repo.GetByID(ctx, edge.ID)
	assert.NoError(t, err)
}

func testDeleteMany(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		Insert(t, repo, Record("Jumbo", fmt.Sprintf("Producto viejo %02d", i), "100", base.AddDate(0, 0, -60)))
	}
	Insert(t, repo, Record("Jumbo", "Producto nuevo", "100", base))

	removed, err := repo.DeleteOlderThan(ctx, base.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(25), removed)

	stats, err := repo.CountByRetailer(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Total)
}

func testSweepCancelled(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		Insert(t, repo, Record("Jumbo", fmt.Sprintf("Producto muy viejo %02d", i), "100", base.AddDate(0, 0, -90)))
	}
	for i := 0; i < 5; i++ {
		Insert(t, repo, Record("Lider", fmt.Sprintf("Producto viejo %02d", i), "100", base.AddDate(0, 0, -45)))
	}
	fresh := Insert(t, repo, Record("Tottus", "Producto nuevo", "100", base))

	removed, err := repo.DeleteOlderThan(ctx, base.AddDate(0, 0, -60))
	require.NoError(t, err)
	require.Equal(t, int64(12), removed)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	removed, err = repo.DeleteOlderThan(cctx, base.AddDate(0, 0, -30))
	assert.ErrorIs(t, err, context.Canceled)

	stats, err := repo.CountByRetailer(ctx)
	require.NoError(t, err)
	var total int64
	for _, s := range stats {
		assert.NotEqual(t, "Jumbo", s.Retailer, "swept rows came back")
		total += s.Total
	}
	assert.Equal(t, int64(6)-removed, total, "reported count must match what is gone")

	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}

func testFindMatching(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	Insert(t, repo, Record("Jumbo", "Leche Entera 1 L", "1090", base))
	Insert(t, repo, Record("Lider", "LECHE ENTERA COLUN 1 L", "990", base.Add(-2*time.Hour)))
	Insert(t, repo, Record("Tottus", "Leche Entera 1 L", "1000", base.Add(-48*time.Hour)))
	Insert(t, repo, Record("Unimarc", "Chocolate 70% cacao", "2500", base))
	Insert(t, repo, Record("Unimarc", "Chocolate 700 g", "3000", base))
	Insert(t, repo, Record("Jumbo", "Ñoquis de papa", "1500", base))

	got, err := repo.FindMatching(ctx, domain.SanitizeTerm("leche entera"), base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Jumbo", got[0].Retailer, "insertion order")
	assert.Equal(t, "Lider", got[1].Retailer)

	got, err = repo.FindMatching(ctx, domain.SanitizeTerm("70%"), base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Chocolate 70% cacao", got[0].Name)

	got, err = repo.FindMatching(ctx, domain.SanitizeTerm("ñoquis"), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.FindMatching(ctx, domain.SanitizeTerm("x'; DROP TABLE productos; --"), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSearch(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		Insert(t, repo, Record("Jumbo", fmt.Sprintf("Galletas %d", i), "500", base.AddDate(0, 0, -i*10)))
	}
	Insert(t, repo, Record("Jumbo", "Pan_molde", "1500", base))
	Insert(t, repo, Record("Jumbo", "Pan amasado", "1500", base))

	got, err := repo.Search(ctx, domain.SanitizeTerm("GALLETAS"), 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = repo.Search(ctx, domain.SanitizeTerm("pan_"), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Pan_molde", got[0].Name)
}

func testListDistinct(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	a := Record("Lider", "A", "1", base)
	a.Category = "Lácteos"
	b := Record("Jumbo", "B", "1", base)
	b.Category = "Despensa"
	c := Record("Jumbo", "C", "1", base)
	Insert(t, repo, a)
	Insert(t, repo, b)
	Insert(t, repo, c)

	retailers, err := repo.ListDistinct(ctx, domain.FieldRetailer)
	require.NoError(t, err)
	assert.Equal(t, []string{"Jumbo", "Lider"}, retailers)

	categories, err := repo.ListDistinct(ctx, domain.FieldCategory)
	require.NoError(t, err)
	assert.Equal(t, []string{"Despensa", "Lácteos"}, categories)

	_, err = repo.ListDistinct(ctx, domain.DistinctField("precio_actual; DROP TABLE productos"))
	assert.Error(t, err)
}

func testGetByID(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	rec := Insert(t, repo, Record("Jumbo", "Pan", "100", base))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pan", got.Name)

	_, err = repo.GetByID(ctx, rec.ID+1000)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.False(t, domain.IsTransient(err))
}

func testList(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		rec := Record("Jumbo", fmt.Sprintf("Jumbo %d", i), "100", base.Add(time.Duration(i)*time.Hour))
		rec.Category = "Despensa"
		Insert(t, repo, rec)
	}
	Insert(t, repo, Record("Lider", "Lider 0", "100", base.Add(10*time.Hour)))

	all, err := repo.List(ctx, domain.ProductFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "Lider 0", all[0].Name, "most recent first")

	jumbo, err := repo.List(ctx, domain.ProductFilter{Retailer: "Jumbo", Skip: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, jumbo, 2)
	assert.Equal(t, "Jumbo 2", jumbo[0].Name)
	assert.Equal(t, "Jumbo 1", jumbo[1].Name)

	byCategory, err := repo.List(ctx, domain.ProductFilter{Category: "Despensa", Limit: 100})
	require.NoError(t, err)
	assert.Len(t, byCategory, 4)

	none, err := repo.List(ctx, domain.ProductFilter{Skip: 50, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCountByRetailer(t *testing.T, repo domain.ProductRepository) {
	ctx := context.Background()
	Insert(t, repo, Record("Lider", "A", "1", base))
	Insert(t, repo, Record("Jumbo", "A", "1", base))
	Insert(t, repo, Record("Jumbo", "B", "1", base))

	counts, err := repo.CountByRetailer(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.RetailerCount{
		{Retailer: "Jumbo", Total: 2},
		{Retailer: "Lider", Total: 1},
	}, counts)
}
