package seed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/crawl"
)

// Uploader registers seed lists with the remote service.
type Uploader struct {
	svc    crawl.SeedService
	logger *zap.Logger
}

// NewUploader wires an uploader to a seed service.
func NewUploader(svc crawl.SeedService, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{svc: svc, logger: logger}
}

// Upload pushes a list to the service and returns the seed directory
// reference an inject job can use. A list without a name gets the
// fingerprint-derived default.
func (u *Uploader) Upload(ctx context.Context, list List) (crawl.SeedRef, error) {
	if len(list.URLs) == 0 {
		return crawl.SeedRef{}, ErrEmpty
	}
	name := list.Name
	if name == "" {
		name = DefaultName(list.URLs)
	}

	ref, err := u.svc.CreateSeed(ctx, name, list.URLs)
	if err != nil {
		return crawl.SeedRef{}, fmt.Errorf("upload seed list %q: %w", name, err)
	}
	u.logger.Info("seed list uploaded",
		zap.String("name", ref.Name),
		zap.Int("urls", len(list.URLs)),
		zap.String("dir", ref.Dir),
	)
	return ref, nil
}
