package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wolkeposter/pkg/domain"
)

// PosterProductInput is one product slot of a new poster.
type PosterProductInput struct {
	ArticleNr     string
	Price         float64
	ImageFilename string
	ImageReader   io.Reader
	ImageSize     int64
}

// CreatePosterInput carries everything a poster needs at creation time.
// BackgroundID names an already-ready backdrop; left empty, the poster
// starts as a draft and gets its backdrop later via
// GeneratePosterBackground. The logo fields are optional.
type CreatePosterInput struct {
	TemplateKey  string
	SaleTitle    string
	ThemeText    string
	Disclaimer   string
	Dates        string
	BackgroundID string
	LogoFilename string
	LogoReader   io.Reader
	LogoSize     int64
	Products     []PosterProductInput
}

// CreatePoster assembles a poster from the template's exact number of
// product slots, plus a ready background when one is named. Validation
// happens before any row or object is written, so a rejected request
// leaves nothing behind.
func (a *App) CreatePoster(ctx context.Context, user domain.User, in CreatePosterInput) (domain.Poster, error) {
	tmpl, ok := domain.Templates[in.TemplateKey]
	if !ok {
		return domain.Poster{}, ErrUnknownTemplate
	}
	if strings.TrimSpace(in.SaleTitle) == "" {
		return domain.Poster{}, ErrSaleTitleRequired
	}
	if len(in.Products) != tmpl.MaxProducts {
		return domain.Poster{}, ErrProductCountInvalid
	}
	for _, p := range in.Products {
		if strings.TrimSpace(p.ArticleNr) == "" {
			return domain.Poster{}, ErrArticleNrRequired
		}
		if p.ImageReader == nil || strings.TrimSpace(p.ImageFilename) == "" {
			return domain.Poster{}, ErrProductImageMissing
		}
		if !a.isExtensionAllowed(p.ImageFilename) {
			return domain.Poster{}, ErrUnsupportedFileType
		}
	}
	if in.LogoReader != nil && !a.isExtensionAllowed(in.LogoFilename) {
		return domain.Poster{}, ErrUnsupportedFileType
	}
	var backgroundURL string
	status := domain.PosterDraft
	if in.BackgroundID != "" {
		bg, ok, err := a.store.GetBackground(in.BackgroundID)
		if err != nil {
			return domain.Poster{}, fmt.Errorf("fetch background: %w", err)
		}
		if !ok || bg.OwnerID != user.ID {
			return domain.Poster{}, ErrBackgroundNotFound
		}
		if bg.Status != domain.BackgroundReady {
			return domain.Poster{}, ErrBackgroundNotReady
		}
		backgroundURL = bg.URL
		status = domain.PosterCompleted
	}

	now := time.Now().UTC()
	posterID := newEntityID()
	productIDs := make([]string, 0, len(in.Products))
	for i, p := range in.Products {
		product, err := a.storePosterProduct(ctx, user, posterID, i, p, now)
		if err != nil {
			return domain.Poster{}, err
		}
		productIDs = append(productIDs, product.ID)
	}

	var logoURL string
	if in.LogoReader != nil {
		url, err := a.storePosterLogo(ctx, user, posterID, in, now)
		if err != nil {
			return domain.Poster{}, err
		}
		logoURL = url
	}

	poster := domain.Poster{
		ID:            posterID,
		OwnerID:       user.ID,
		TemplateKey:   in.TemplateKey,
		SaleTitle:     strings.TrimSpace(in.SaleTitle),
		ThemeText:     strings.TrimSpace(in.ThemeText),
		Status:        status,
		BackgroundURL: backgroundURL,
		StoreLogoURL:  logoURL,
		Disclaimer:    in.Disclaimer,
		Dates:         in.Dates,
		ProductIDs:    productIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.SavePoster(poster); err != nil {
		return domain.Poster{}, fmt.Errorf("save poster: %w", err)
	}
	slog.Info("poster created", "poster_id", poster.ID, "owner_id", user.ID, "template", in.TemplateKey)
	return poster, nil
}

func (a *App) storePosterLogo(ctx context.Context, user domain.User, posterID string, in CreatePosterInput, now time.Time) (string, error) {
	filename := sanitizeFilename(in.LogoFilename)
	assetID := newEntityID()
	key := fmt.Sprintf("posters/%s/logo/%s_%s", posterID, assetID, filename)
	if err := a.objects.Put(ctx, key, in.LogoReader, in.LogoSize, contentTypeFor(filename)); err != nil {
		return "", fmt.Errorf("store logo image: %w", err)
	}
	asset := domain.Asset{
		ID:         assetID,
		OwnerID:    user.ID,
		Kind:       domain.AssetLogo,
		URL:        assetURLPath(assetID),
		StorageKey: key,
		Filename:   filename,
		CreatedAt:  now,
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	return asset.URL, nil
}

func (a *App) storePosterProduct(ctx context.Context, user domain.User, posterID string, slot int, p PosterProductInput, now time.Time) (domain.Product, error) {
	filename := sanitizeFilename(p.ImageFilename)
	assetID := newEntityID()
	key := fmt.Sprintf("posters/%s/products/%d_%s_%s", posterID, slot, assetID, filename)
	if err := a.objects.Put(ctx, key, p.ImageReader, p.ImageSize, contentTypeFor(filename)); err != nil {
		return domain.Product{}, fmt.Errorf("store product image: %w", err)
	}
	asset := domain.Asset{
		ID:         assetID,
		OwnerID:    user.ID,
		Kind:       domain.AssetProduct,
		URL:        assetURLPath(assetID),
		StorageKey: key,
		Filename:   filename,
		CreatedAt:  now,
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return domain.Product{}, fmt.Errorf("save asset: %w", err)
	}
	slotIndex := slot
	product := domain.Product{
		ID:        newEntityID(),
		OwnerID:   user.ID,
		ArticleNr: strings.TrimSpace(p.ArticleNr),
		Name:      strings.TrimSpace(p.ArticleNr),
		Price:     p.Price,
		ImagePath: asset.URL,
		SlotIndex: &slotIndex,
		CreatedAt: now,
	}
	if err := a.store.SaveProduct(product); err != nil {
		return domain.Product{}, fmt.Errorf("save product: %w", err)
	}
	return product, nil
}

// GetPoster returns one of the caller's posters.
func (a *App) GetPoster(user domain.User, id string) (domain.Poster, error) {
	poster, ok, err := a.store.GetPoster(id)
	if err != nil {
		return domain.Poster{}, fmt.Errorf("fetch poster: %w", err)
	}
	if !ok || poster.OwnerID != user.ID {
		return domain.Poster{}, ErrPosterNotFound
	}
	return poster, nil
}

// ListPosters returns the caller's posters, most recent first.
func (a *App) ListPosters(user domain.User) ([]domain.Poster, error) {
	return a.store.ListPostersByOwner(user.ID)
}

// UpdatePosterInput patches poster text fields. Nil means "leave as is".
// Status is never client-writable.
type UpdatePosterInput struct {
	SaleTitle    *string
	ThemeText    *string
	Disclaimer   *string
	Dates        *string
	StoreLogoURL *string
}

// UpdatePoster applies a partial update to one of the caller's posters.
func (a *App) UpdatePoster(user domain.User, id string, in UpdatePosterInput) (domain.Poster, error) {
	poster, err := a.GetPoster(user, id)
	if err != nil {
		return domain.Poster{}, err
	}
	if in.SaleTitle != nil {
		if strings.TrimSpace(*in.SaleTitle) == "" {
			return domain.Poster{}, ErrSaleTitleRequired
		}
		poster.SaleTitle = strings.TrimSpace(*in.SaleTitle)
	}
	if in.ThemeText != nil {
		poster.ThemeText = strings.TrimSpace(*in.ThemeText)
	}
	if in.Disclaimer != nil {
		poster.Disclaimer = *in.Disclaimer
	}
	if in.Dates != nil {
		poster.Dates = *in.Dates
	}
	if in.StoreLogoURL != nil {
		poster.StoreLogoURL = *in.StoreLogoURL
	}
	poster.UpdatedAt = time.Now().UTC()
	if err := a.store.SavePoster(poster); err != nil {
		return domain.Poster{}, fmt.Errorf("save poster: %w", err)
	}
	return poster, nil
}

// ExportPoster records an export asset for the poster. Server-side
// compositing is not implemented; the export points at the poster's
// background, or a placeholder when the poster has none. Format is
// "png" or "pdf", defaulting to png.
func (a *App) ExportPoster(ctx context.Context, user domain.User, id, format string) (domain.Asset, error) {
	switch format {
	case "":
		format = "png"
	case "png", "pdf":
	default:
		return domain.Asset{}, ErrUnknownExportFormat
	}
	poster, err := a.GetPoster(user, id)
	if err != nil {
		return domain.Asset{}, err
	}
	exportURL := poster.BackgroundURL
	if exportURL == "" {
		exportURL = "https://via.placeholder.com/1080x1920?text=" + url.QueryEscape(poster.SaleTitle)
	}
	asset := domain.Asset{
		ID:        newEntityID(),
		OwnerID:   user.ID,
		Kind:      domain.AssetExport,
		URL:       exportURL,
		Filename:  "poster_" + poster.ID + "_" + strconv.FormatInt(time.Now().Unix(), 10) + "." + format,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return domain.Asset{}, fmt.Errorf("save export asset: %w", err)
	}
	return asset, nil
}
