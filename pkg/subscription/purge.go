package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/printforge/pkg/logger"
)

// purger deletes every uploaded image of a user and nulls the referencing fields.
// A nil purger or one without an index is a no-op.
type purger struct {
	images  ImageIndex
	objects ObjectStore
	logger  *slog.Logger
}

func newPurger(images ImageIndex, objects ObjectStore, log *slog.Logger) *purger {
	if images == nil {
		return nil
	}
	return &purger{images: images, objects: objects, logger: log}
}

// purgeUser returns the number of images removed. Objects that are already gone count as
// removed so a retried purge converges instead of failing forever.
func (p *purger) purgeUser(ctx context.Context, userID uuid.UUID) (int, error) {
	if p == nil {
		return 0, nil
	}

	refs, err := p.images.ListUserImages(ctx, userID)
	if err != nil {
		return 0, persistence(err)
	}

	var (
		removed int
		errs    []error
	)
	for _, ref := range refs {
		if err := p.purgeImage(ctx, ref); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}
	return removed, nil
}

func (p *purger) purgeImage(ctx context.Context, ref ImageRef) error {
	if p.objects != nil && ref.URL != "" {
		err := p.objects.DeleteObject(ctx, ref.URL)
		switch {
		case errors.Is(err, ErrObjectNotFound):
			p.logger.DebugContext(ctx, "image already deleted",
				slog.String("image_class", string(ref.Class)),
				slog.String("url", ref.URL))
		case err != nil:
			return errors.Join(ErrUpstream, fmt.Errorf("delete %s image of %s: %w", ref.Class, ref.OwnerID, err))
		}
	}
	if err := p.images.ClearImage(ctx, ref); err != nil {
		return persistence(fmt.Errorf("clear %s image of %s: %w", ref.Class, ref.OwnerID, err))
	}
	return nil
}

func (p *purger) logPurged(ctx context.Context, userID uuid.UUID, n int) {
	if p == nil {
		return
	}
	p.logger.InfoContext(ctx, "user images purged",
		logger.UserID(userID),
		slog.Int("images", n))
}
