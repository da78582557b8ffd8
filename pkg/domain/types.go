package domain

import "time"

// BackgroundStatus is the closed state set for generated backdrops.
// Transitions only move forward: queued -> generating -> ready | failed.
type BackgroundStatus string

const (
	BackgroundQueued     BackgroundStatus = "queued"
	BackgroundGenerating BackgroundStatus = "generating"
	BackgroundReady      BackgroundStatus = "ready"
	BackgroundFailed     BackgroundStatus = "failed"
)

// Terminal reports whether no further automatic transition occurs.
func (s BackgroundStatus) Terminal() bool {
	return s == BackgroundReady || s == BackgroundFailed
}

// PosterStatus is the closed state set for posters. A failed background
// generation moves the owning poster to PosterFailed, never back to draft.
type PosterStatus string

const (
	PosterDraft      PosterStatus = "draft"
	PosterGenerating PosterStatus = "generating"
	PosterCompleted  PosterStatus = "completed"
	PosterFailed     PosterStatus = "failed"
)

type UserRole string

const (
	RoleStoreOwner UserRole = "store_owner"
	RoleAdmin      UserRole = "admin"
)

// AssetKind tags what an asset binary is used for.
type AssetKind string

const (
	AssetBackground AssetKind = "background"
	AssetLogo       AssetKind = "logo"
	AssetProduct    AssetKind = "product"
	AssetExport     AssetKind = "export"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Product struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	ArticleNr string    `json:"articleNr,omitempty"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	ImagePath string    `json:"imagePath,omitempty"`
	SlotIndex *int      `json:"slotIndex,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Background tracks one backdrop through its generation lifecycle.
// It is written once at creation and once more by the worker that
// completes it; after that it never changes.
type Background struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"ownerId"`
	ThemeText    string           `json:"themeText,omitempty"`
	Status       BackgroundStatus `json:"status"`
	URL          string           `json:"url,omitempty"`
	ErrorMessage string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type Poster struct {
	ID            string       `json:"id"`
	OwnerID       string       `json:"ownerId"`
	TemplateKey   string       `json:"templateKey"`
	SaleTitle     string       `json:"saleTitle"`
	ThemeText     string       `json:"themeText,omitempty"`
	Status        PosterStatus `json:"status"`
	BackgroundURL string       `json:"backgroundImageUrl,omitempty"`
	StoreLogoURL  string       `json:"storeLogoUrl,omitempty"`
	Disclaimer    string       `json:"disclaimer,omitempty"`
	Dates         string       `json:"dates,omitempty"`
	ProductIDs    []string     `json:"productIds"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Asset is a write-once pointer to a binary stored in object storage.
// StorageKey is empty for assets that carry an absolute external URL.
type Asset struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Kind       AssetKind `json:"type"`
	URL        string    `json:"url"`
	StorageKey string    `json:"-"`
	Filename   string    `json:"filename"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Template fixes the poster layout and how many products it must carry.
type Template struct {
	Key         string `json:"key"`
	MaxProducts int    `json:"maxProducts"`
}

// Templates is the closed set of poster layouts.
var Templates = map[string]Template{
	"2_products": {Key: "2_products", MaxProducts: 2},
	"3_products": {Key: "3_products", MaxProducts: 3},
}
