package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wolkeposter/pkg/ai"
	"wolkeposter/pkg/domain"
	"wolkeposter/pkg/queue"
	"wolkeposter/pkg/storage"
	"wolkeposter/pkg/store"
)

// GenerationQueue dispatches background-generation jobs to the worker.
type GenerationQueue interface {
	Enqueue(ctx context.Context, backgroundID, posterID, themeText string) (queue.Job, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store             store.Store
	Sessions          store.SessionStore
	Objects           storage.ObjectStore
	Generator         ai.ImageGenerator
	Queue             GenerationQueue
	AllowedExtensions []string
	PresignExpiry     time.Duration
}

// App is the core application service wiring storage, the image
// collaborator, and the generation queue together.
type App struct {
	store             store.Store
	sessions          store.SessionStore
	objects           storage.ObjectStore
	generator         ai.ImageGenerator
	queue             GenerationQueue
	allowedExtensions map[string]struct{}
	presignExpiry     time.Duration
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("image generator required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("generation queue required")
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	return &App{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		objects:           cfg.Objects,
		generator:         cfg.Generator,
		queue:             cfg.Queue,
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		presignExpiry:     presignExpiry,
	}, nil
}

// ResolveAssetURL resolves an asset to a fetchable URL: a presigned GET
// for objects in storage, or the stored absolute URL otherwise. Assets
// of other owners are reported as not found.
func (a *App) ResolveAssetURL(ctx context.Context, user domain.User, assetID string) (string, error) {
	asset, ok, err := a.store.GetAsset(assetID)
	if err != nil {
		return "", fmt.Errorf("fetch asset: %w", err)
	}
	if !ok || asset.OwnerID != user.ID {
		return "", ErrAssetNotFound
	}
	if strings.TrimSpace(asset.StorageKey) != "" {
		url, err := a.objects.PresignGet(ctx, asset.StorageKey, a.presignExpiry)
		if err != nil {
			return "", fmt.Errorf("presign asset: %w", err)
		}
		return url, nil
	}
	return asset.URL, nil
}

// ListProducts returns the caller's products, most recent first.
func (a *App) ListProducts(user domain.User) ([]domain.Product, error) {
	return a.store.ListProductsByOwner(user.ID)
}

func (a *App) isExtensionAllowed(filename string) bool {
	if len(a.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := a.allowedExtensions[ext]
	return ok
}

// assetURLPath is the client-facing reference for an asset; the asset
// endpoint resolves it to a presigned URL on demand.
func assetURLPath(assetID string) string {
	return "/api/assets/" + assetID + "/url"
}

func newEntityID() string {
	return uuid.NewString()
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".png", ".jpg", ".jpeg", ".webp"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
