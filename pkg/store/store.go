package store

import "wolkeposter/pkg/domain"

// Store defines persistence operations for users, products, posters,
// backgrounds, and assets. All writes are single-row; no row is ever
// deleted.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByID(id string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	UserCount() (int, error)

	// products
	SaveProduct(domain.Product) error
	BulkSaveProducts([]domain.Product) error
	ListProductsByOwner(ownerID string) ([]domain.Product, error)

	// backgrounds
	SaveBackground(domain.Background) error
	GetBackground(id string) (domain.Background, bool, error)
	ListBackgroundsByOwner(ownerID string) ([]domain.Background, error)
	// SetBackgroundResult advances a background's status, optionally
	// recording the result URL or error message. It must refuse to
	// overwrite a record that is already terminal.
	SetBackgroundResult(id string, status domain.BackgroundStatus, url, errMsg string) error

	// posters
	SavePoster(domain.Poster) error
	GetPoster(id string) (domain.Poster, bool, error)
	ListPostersByOwner(ownerID string) ([]domain.Poster, error)
	SetPosterStatus(id string, status domain.PosterStatus) error

	// assets
	SaveAsset(domain.Asset) error
	GetAsset(id string) (domain.Asset, bool, error)
}

// SessionStore issues and validates session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
