package store

import (
	"testing"
	"time"

	"wolkeposter/pkg/domain"
)

func TestBackgroundResultIsTerminal(t *testing.T) {
	s := NewMemoryStore()
	bg := domain.Background{
		ID:        "bg-1",
		OwnerID:   "user-1",
		ThemeText: "Summer beach vibes",
		Status:    domain.BackgroundGenerating,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.SaveBackground(bg); err != nil {
		t.Fatalf("save background: %v", err)
	}
	if err := s.SetBackgroundResult("bg-1", domain.BackgroundReady, "https://cdn/bg.png", ""); err != nil {
		t.Fatalf("set result: %v", err)
	}

	// A later write must not disturb the terminal state.
	if err := s.SetBackgroundResult("bg-1", domain.BackgroundFailed, "", "late failure"); err != nil {
		t.Fatalf("second set result: %v", err)
	}
	got, ok, err := s.GetBackground("bg-1")
	if err != nil || !ok {
		t.Fatalf("get background: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.BackgroundReady || got.URL != "https://cdn/bg.png" {
		t.Fatalf("terminal state changed: %+v", got)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("terminal record picked up error message: %q", got.ErrorMessage)
	}
}

func TestListProductsByOwnerScopesAndOrders(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i, tc := range []struct {
		id, owner string
		offset    time.Duration
	}{
		{"p-1", "user-1", 0},
		{"p-2", "user-1", time.Second},
		{"p-3", "user-2", 2 * time.Second},
	} {
		if err := s.SaveProduct(domain.Product{
			ID:        tc.id,
			OwnerID:   tc.owner,
			Name:      "product",
			CreatedAt: base.Add(tc.offset),
		}); err != nil {
			t.Fatalf("save product %d: %v", i, err)
		}
	}
	products, err := s.ListProductsByOwner("user-1")
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products for user-1, got %d", len(products))
	}
	if products[0].ID != "p-2" || products[1].ID != "p-1" {
		t.Fatalf("expected most recent first, got %q then %q", products[0].ID, products[1].ID)
	}
}

func TestPosterRoundTripKeepsProductIDs(t *testing.T) {
	s := NewMemoryStore()
	poster := domain.Poster{
		ID:          "poster-1",
		OwnerID:     "user-1",
		TemplateKey: "2_products",
		SaleTitle:   "Summer Sale",
		Status:      domain.PosterCompleted,
		ProductIDs:  []string{"p-1", "p-2"},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.SavePoster(poster); err != nil {
		t.Fatalf("save poster: %v", err)
	}
	got, ok, err := s.GetPoster("poster-1")
	if err != nil || !ok {
		t.Fatalf("get poster: ok=%v err=%v", ok, err)
	}
	if len(got.ProductIDs) != 2 || got.ProductIDs[0] != "p-1" {
		t.Fatalf("product ids lost: %+v", got.ProductIDs)
	}
}
