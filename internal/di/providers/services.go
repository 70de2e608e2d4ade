package providers

import (
	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/service"
)

// ProvideReviewService provides the review workflow service.
func ProvideReviewService(i do.Injector) (*service.Review, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	authority := do.MustInvoke[*labels.Authority](i)

	return service.NewReview(storeHandle.Store, authority, log.Logger), nil
}
