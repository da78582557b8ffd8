package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"wolkeposter/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ProductModel{},
		&BackgroundModel{},
		&PosterModel{},
		&AssetModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers a user. Usernames are unique; conflicts surface as errors.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveProduct stores one product row.
func (s *GormStore) SaveProduct(p domain.Product) error {
	model := productToModel(p)
	return s.db.Create(&model).Error
}

// BulkSaveProducts inserts products in batches.
func (s *GormStore) BulkSaveProducts(products []domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	models := make([]ProductModel, 0, len(products))
	for _, p := range products {
		models = append(models, productToModel(p))
	}
	return s.db.CreateInBatches(&models, 200).Error
}

// ListProductsByOwner returns the owner's products, most recent first.
func (s *GormStore) ListProductsByOwner(ownerID string) ([]domain.Product, error) {
	var models []ProductModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Product, 0, len(models))
	for _, m := range models {
		res = append(res, productFromModel(m))
	}
	return res, nil
}

// SaveBackground stores a background record.
func (s *GormStore) SaveBackground(b domain.Background) error {
	model := backgroundToModel(b)
	return s.db.Create(&model).Error
}

// GetBackground retrieves a background by ID.
func (s *GormStore) GetBackground(id string) (domain.Background, bool, error) {
	var model BackgroundModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Background{}, false, nil
		}
		return domain.Background{}, false, err
	}
	return backgroundFromModel(model), true, nil
}

// ListBackgroundsByOwner returns the owner's backgrounds, most recent first.
func (s *GormStore) ListBackgroundsByOwner(ownerID string) ([]domain.Background, error) {
	var models []BackgroundModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Background, 0, len(models))
	for _, m := range models {
		res = append(res, backgroundFromModel(m))
	}
	return res, nil
}

// SetBackgroundResult advances a background's status. Records that are
// already terminal are left untouched so repeated polls stay stable.
func (s *GormStore) SetBackgroundResult(id string, status domain.BackgroundStatus, url, errMsg string) error {
	return s.db.Model(&BackgroundModel{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			string(domain.BackgroundReady),
			string(domain.BackgroundFailed),
		}).
		Updates(map[string]any{
			"status":        string(status),
			"url":           url,
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SavePoster stores or updates a poster.
func (s *GormStore) SavePoster(p domain.Poster) error {
	model, err := posterToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"template_key", "sale_title", "theme_text", "status",
			"background_url", "store_logo_url", "disclaimer", "dates",
			"product_ids", "updated_at",
		}),
	}).Create(&model).Error
}

// GetPoster retrieves a poster by ID.
func (s *GormStore) GetPoster(id string) (domain.Poster, bool, error) {
	var model PosterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Poster{}, false, nil
		}
		return domain.Poster{}, false, err
	}
	return posterFromModel(model), true, nil
}

// ListPostersByOwner returns the owner's posters, most recent first.
func (s *GormStore) ListPostersByOwner(ownerID string) ([]domain.Poster, error) {
	var models []PosterModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Poster, 0, len(models))
	for _, m := range models {
		res = append(res, posterFromModel(m))
	}
	return res, nil
}

// SetPosterStatus updates only the poster lifecycle status.
func (s *GormStore) SetPosterStatus(id string, status domain.PosterStatus) error {
	return s.db.Model(&PosterModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

// SaveAsset stores a write-once asset record.
func (s *GormStore) SaveAsset(a domain.Asset) error {
	model := assetToModel(a)
	return s.db.Create(&model).Error
}

// GetAsset retrieves an asset by ID.
func (s *GormStore) GetAsset(id string) (domain.Asset, bool, error) {
	var model AssetModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Asset{}, false, nil
		}
		return domain.Asset{}, false, err
	}
	return assetFromModel(model), true, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func productToModel(p domain.Product) ProductModel {
	return ProductModel{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		ArticleNr: p.ArticleNr,
		Name:      p.Name,
		Price:     p.Price,
		ImagePath: p.ImagePath,
		SlotIndex: p.SlotIndex,
		CreatedAt: p.CreatedAt,
	}
}

func productFromModel(m ProductModel) domain.Product {
	return domain.Product{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		ArticleNr: m.ArticleNr,
		Name:      m.Name,
		Price:     m.Price,
		ImagePath: m.ImagePath,
		SlotIndex: m.SlotIndex,
		CreatedAt: m.CreatedAt,
	}
}

func backgroundToModel(b domain.Background) BackgroundModel {
	return BackgroundModel{
		ID:           b.ID,
		OwnerID:      b.OwnerID,
		ThemeText:    b.ThemeText,
		Status:       string(b.Status),
		URL:          b.URL,
		ErrorMessage: b.ErrorMessage,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func backgroundFromModel(m BackgroundModel) domain.Background {
	return domain.Background{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		ThemeText:    m.ThemeText,
		Status:       domain.BackgroundStatus(m.Status),
		URL:          m.URL,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func posterToModel(p domain.Poster) (PosterModel, error) {
	ids := p.ProductIDs
	if ids == nil {
		ids = []string{}
	}
	rawIDs, err := json.Marshal(ids)
	if err != nil {
		return PosterModel{}, fmt.Errorf("marshal product ids: %w", err)
	}
	return PosterModel{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		TemplateKey:   p.TemplateKey,
		SaleTitle:     p.SaleTitle,
		ThemeText:     p.ThemeText,
		Status:        string(p.Status),
		BackgroundURL: p.BackgroundURL,
		StoreLogoURL:  p.StoreLogoURL,
		Disclaimer:    p.Disclaimer,
		Dates:         p.Dates,
		ProductIDs:    rawIDs,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}, nil
}

func posterFromModel(m PosterModel) domain.Poster {
	var ids []string
	if len(m.ProductIDs) > 0 {
		_ = json.Unmarshal(m.ProductIDs, &ids)
	}
	return domain.Poster{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		TemplateKey:   m.TemplateKey,
		SaleTitle:     m.SaleTitle,
		ThemeText:     m.ThemeText,
		Status:        domain.PosterStatus(m.Status),
		BackgroundURL: m.BackgroundURL,
		StoreLogoURL:  m.StoreLogoURL,
		Disclaimer:    m.Disclaimer,
		Dates:         m.Dates,
		ProductIDs:    ids,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func assetToModel(a domain.Asset) AssetModel {
	return AssetModel{
		ID:         a.ID,
		OwnerID:    a.OwnerID,
		Kind:       string(a.Kind),
		URL:        a.URL,
		StorageKey: a.StorageKey,
		Filename:   a.Filename,
		CreatedAt:  a.CreatedAt,
	}
}

func assetFromModel(m AssetModel) domain.Asset {
	return domain.Asset{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Kind:       domain.AssetKind(m.Kind),
		URL:        m.URL,
		StorageKey: m.StorageKey,
		Filename:   m.Filename,
		CreatedAt:  m.CreatedAt,
	}
}
