package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"wolkeposter/pkg/domain"
	"wolkeposter/pkg/queue"
)

const backgroundPromptFormat = "A professional marketing poster background for: %s. Minimalist, clean, suitable for overlaying text."

const minThemeTextLength = 5

var errQueueUnavailable = errors.New("could not queue generation")

// GenerateBackground records a new backdrop in the queued state and
// enqueues the job for the worker. It returns as soon as the job is on
// the queue; callers poll GetBackground for the outcome.
func (a *App) GenerateBackground(ctx context.Context, user domain.User, themeText string) (domain.Background, error) {
	return a.startGeneration(ctx, user, "", themeText)
}

// GeneratePosterBackground starts a backdrop generation on behalf of one
// of the caller's posters. The poster moves to generating and the worker
// finishes it together with the background: completed with the new
// backdrop attached, or failed.
func (a *App) GeneratePosterBackground(ctx context.Context, user domain.User, posterID, themeText string) (domain.Background, error) {
	if len(strings.TrimSpace(themeText)) < minThemeTextLength {
		return domain.Background{}, ErrThemeTextTooShort
	}
	poster, err := a.GetPoster(user, posterID)
	if err != nil {
		return domain.Background{}, err
	}
	if err := a.store.SetPosterStatus(poster.ID, domain.PosterGenerating); err != nil {
		return domain.Background{}, fmt.Errorf("mark poster generating: %w", err)
	}
	return a.startGeneration(ctx, user, poster.ID, themeText)
}

func (a *App) startGeneration(ctx context.Context, user domain.User, posterID, themeText string) (domain.Background, error) {
	themeText = strings.TrimSpace(themeText)
	if len(themeText) < minThemeTextLength {
		return domain.Background{}, ErrThemeTextTooShort
	}
	now := time.Now().UTC()
	bg := domain.Background{
		ID:        newEntityID(),
		OwnerID:   user.ID,
		ThemeText: themeText,
		Status:    domain.BackgroundQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveBackground(bg); err != nil {
		return domain.Background{}, fmt.Errorf("save background: %w", err)
	}
	if _, err := a.queue.Enqueue(ctx, bg.ID, posterID, themeText); err != nil {
		// The record exists but no worker will ever pick it up; close it
		// out so the client is not left polling forever.
		a.failGeneration(queue.Job{BackgroundID: bg.ID, PosterID: posterID}, errQueueUnavailable)
		return domain.Background{}, fmt.Errorf("enqueue generation: %w", err)
	}
	return bg, nil
}

// UploadBackground stores a user-provided backdrop image and records it
// as an immediately ready background.
func (a *App) UploadBackground(ctx context.Context, user domain.User, filename string, r io.Reader, size int64) (domain.Background, error) {
	filename = sanitizeFilename(filename)
	if filename == "" {
		return domain.Background{}, ErrFileRequired
	}
	if !a.isExtensionAllowed(filename) {
		return domain.Background{}, ErrUnsupportedFileType
	}
	assetID := newEntityID()
	key := fmt.Sprintf("backgrounds/%s/%s_%s", user.ID, assetID, filename)
	if err := a.objects.Put(ctx, key, r, size, contentTypeFor(filename)); err != nil {
		return domain.Background{}, fmt.Errorf("store background image: %w", err)
	}
	now := time.Now().UTC()
	asset := domain.Asset{
		ID:         assetID,
		OwnerID:    user.ID,
		Kind:       domain.AssetBackground,
		URL:        assetURLPath(assetID),
		StorageKey: key,
		Filename:   filename,
		CreatedAt:  now,
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return domain.Background{}, fmt.Errorf("save asset: %w", err)
	}
	bg := domain.Background{
		ID:        newEntityID(),
		OwnerID:   user.ID,
		Status:    domain.BackgroundReady,
		URL:       asset.URL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveBackground(bg); err != nil {
		return domain.Background{}, fmt.Errorf("save background: %w", err)
	}
	return bg, nil
}

// GetBackground returns one of the caller's backgrounds. Records owned
// by someone else are indistinguishable from records that do not exist.
func (a *App) GetBackground(user domain.User, id string) (domain.Background, error) {
	bg, ok, err := a.store.GetBackground(id)
	if err != nil {
		return domain.Background{}, fmt.Errorf("fetch background: %w", err)
	}
	if !ok || bg.OwnerID != user.ID {
		return domain.Background{}, ErrBackgroundNotFound
	}
	return bg, nil
}

// ListBackgrounds returns the caller's backgrounds, most recent first.
func (a *App) ListBackgrounds(user domain.User) ([]domain.Background, error) {
	return a.store.ListBackgroundsByOwner(user.ID)
}

// GenerationHandler returns the worker callback that completes queued
// generation jobs. The worker is the only writer of a background row
// after creation. A retryable failure returns an error without touching
// the row; once attempts reach maxRetries the background (and, when the
// job carries one, its poster) is marked failed for good.
func (a *App) GenerationHandler(maxRetries int) func(context.Context, queue.Job) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return func(ctx context.Context, job queue.Job) error {
		if err := a.completeGeneration(ctx, job); err != nil {
			if job.Attempts >= maxRetries {
				a.failGeneration(job, err)
			}
			return err
		}
		return nil
	}
}

func (a *App) completeGeneration(ctx context.Context, job queue.Job) error {
	bg, ok, err := a.store.GetBackground(job.BackgroundID)
	if err != nil {
		return fmt.Errorf("fetch background: %w", err)
	}
	if !ok {
		// Nothing to complete; drop the job without retrying.
		slog.Warn("generation job for unknown background", "background_id", job.BackgroundID)
		return nil
	}
	if bg.Status.Terminal() {
		return nil
	}
	if bg.Status == domain.BackgroundQueued {
		if err := a.store.SetBackgroundResult(bg.ID, domain.BackgroundGenerating, "", ""); err != nil {
			return fmt.Errorf("mark background generating: %w", err)
		}
	}

	prompt := fmt.Sprintf(backgroundPromptFormat, job.ThemeText)
	img, err := a.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}

	assetID := newEntityID()
	key := fmt.Sprintf("backgrounds/%s/%s.png", bg.OwnerID, assetID)
	if err := a.objects.Put(ctx, key, bytes.NewReader(img), int64(len(img)), "image/png"); err != nil {
		return fmt.Errorf("store generated image: %w", err)
	}
	asset := domain.Asset{
		ID:         assetID,
		OwnerID:    bg.OwnerID,
		Kind:       domain.AssetBackground,
		URL:        assetURLPath(assetID),
		StorageKey: key,
		Filename:   assetID + ".png",
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveAsset(asset); err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	if err := a.store.SetBackgroundResult(bg.ID, domain.BackgroundReady, asset.URL, ""); err != nil {
		return fmt.Errorf("mark background ready: %w", err)
	}
	if job.PosterID != "" {
		a.attachBackgroundToPoster(job.PosterID, asset.URL)
	}
	slog.Info("background generation complete", "background_id", bg.ID, "owner_id", bg.OwnerID)
	return nil
}

// failGeneration closes out a job that exhausted its retries. A poster
// waiting on the background goes to failed, never back to draft.
func (a *App) failGeneration(job queue.Job, cause error) {
	if err := a.store.SetBackgroundResult(job.BackgroundID, domain.BackgroundFailed, "", cause.Error()); err != nil {
		slog.Error("failed to mark background failed", "background_id", job.BackgroundID, "error", err)
	}
	if job.PosterID != "" {
		if err := a.store.SetPosterStatus(job.PosterID, domain.PosterFailed); err != nil {
			slog.Error("failed to mark poster failed", "poster_id", job.PosterID, "error", err)
		}
	}
	slog.Warn("background generation failed", "background_id", job.BackgroundID, "error", cause)
}

func (a *App) attachBackgroundToPoster(posterID, url string) {
	poster, ok, err := a.store.GetPoster(posterID)
	if err != nil || !ok {
		slog.Error("could not attach background to poster", "poster_id", posterID, "error", err)
		return
	}
	poster.BackgroundURL = url
	poster.Status = domain.PosterCompleted
	poster.UpdatedAt = time.Now().UTC()
	if err := a.store.SavePoster(poster); err != nil {
		slog.Error("could not attach background to poster", "poster_id", posterID, "error", err)
	}
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
