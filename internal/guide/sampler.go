package guide

import (
	"context"

	"onboard/internal/domsample"
	"onboard/internal/model"
)

func defaultSampler(ctx context.Context, page Page, maxElems, maxChars int) (*model.PageContext, error) {
	return domsample.Collect(ctx, page, maxElems, maxChars)
}
