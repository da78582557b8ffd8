package app

import "errors"

var (
	// ErrInvalidCredentials is returned for any credential mismatch. The
	// message is deliberately uniform so callers cannot tell which part
	// of the credential was wrong.
	ErrInvalidCredentials = errors.New("Authentication failed")

	ErrThemeTextTooShort = errors.New("theme_text must be at least 5 characters")

	ErrBackgroundNotFound = errors.New("Background not found")
	ErrBackgroundNotReady = errors.New("background is not ready")

	ErrPosterNotFound = errors.New("Poster not found")
	ErrAssetNotFound  = errors.New("Asset not found")

	ErrUnknownTemplate     = errors.New("unknown template key")
	ErrUnknownExportFormat = errors.New("export format must be png or pdf")
	ErrSaleTitleRequired   = errors.New("sale_title is required")
	ErrProductCountInvalid = errors.New("product entries must match the template's product count")
	ErrArticleNrRequired   = errors.New("every product entry needs an article number")
	ErrProductImageMissing = errors.New("every product entry needs an image")

	ErrFileRequired        = errors.New("file is required (field: file)")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)
