package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type ProductModel struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"not null;index"`
	ArticleNr string
	Name      string  `gorm:"not null"`
	Price     float64 `gorm:"not null"`
	ImagePath string
	SlotIndex *int
	CreatedAt time.Time `gorm:"not null;index"`
}

type BackgroundModel struct {
	ID           string `gorm:"primaryKey"`
	OwnerID      string `gorm:"not null;index"`
	ThemeText    string
	Status       string `gorm:"not null"`
	URL          string
	ErrorMessage string
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type PosterModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	TemplateKey   string `gorm:"not null"`
	SaleTitle     string `gorm:"not null"`
	ThemeText     string
	Status        string `gorm:"not null"`
	BackgroundURL string
	StoreLogoURL  string
	Disclaimer    string
	Dates         string
	ProductIDs    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;index"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

type AssetModel struct {
	ID         string `gorm:"primaryKey"`
	OwnerID    string `gorm:"not null;index"`
	Kind       string `gorm:"not null"`
	URL        string `gorm:"not null"`
	StorageKey string
	Filename   string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}
