package brands

import (
	"context"
	"fmt"
	"path"
	"strings"

	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	"google.golang.org/api/option"
)

const accountSummaryPageSize = 200

// AdminLister walks every account summary visible to the service account.
type AdminLister struct {
	svc *analyticsadmin.Service
}

func NewAdminLister(ctx context.Context, opts ...option.ClientOption) (*AdminLister, error) {
	opts = append([]option.ClientOption{option.WithScopes(analyticsadmin.AnalyticsReadonlyScope)}, opts...)
	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create analytics admin client: %w", err)
	}
	return &AdminLister{svc: svc}, nil
}

func (l *AdminLister) ListBrands(ctx context.Context) ([]Brand, error) {
	var out []Brand
	err := l.svc.AccountSummaries.List().PageSize(accountSummaryPageSize).Pages(ctx,
		func(page *analyticsadmin.GoogleAnalyticsAdminV1betaListAccountSummariesResponse) error {
			for _, account := range page.AccountSummaries {
				for _, property := range account.PropertySummaries {
					id := path.Base(strings.TrimSpace(property.Property))
					if id == "" || id == "." || id == "/" {
						continue
					}
					out = append(out, Brand{
						Name:       strings.TrimSpace(property.DisplayName),
						PropertyID: id,
						Account:    account.DisplayName,
					})
				}
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list account summaries: %w", err)
	}
	sortByName(out)
	return out, nil
}
