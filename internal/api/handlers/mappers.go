package handlers

import (
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/format"
)

func mapUser(u *model.AuthenticatedUser) openapi.User {
	resp := openapi.User{
		ID:          u.Subject,
		Role:        u.Role,
		SubjectType: string(u.SubjectType),
	}
	if u.Email != "" {
		email := openapi_types.Email(u.Email)
		resp.Email = &email
	}
	return resp
}

func mapPortfolio(p *model.Portfolio) openapi.Portfolio {
	return openapi.Portfolio{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		Globals:   p.Globals,
		StartYear: p.StartYear,
		IsPrimary: p.IsPrimary,
		CreatedAt: p.CreatedAt,
	}
}

func mapPortfolios(list []*model.Portfolio) []openapi.Portfolio {
	out := make([]openapi.Portfolio, 0, len(list))
	for _, p := range list {
		out = append(out, mapPortfolio(p))
	}
	return out
}

func mapProperty(p *model.Property) openapi.Property {
	return openapi.Property{
		ID:          p.ID,
		PortfolioID: p.PortfolioID,
		Data:        p.Data,
		CreatedAt:   p.CreatedAt,
	}
}

// mapProjection добавляет к суммам строки для отображения.
func mapProjection(p *model.Projection) openapi.Projection {
	years := make([]openapi.ProjectionYear, 0, len(p.Years))
	for _, y := range p.Years {
		years = append(years, openapi.ProjectionYear{
			Year:           y.Year,
			Offset:         y.Offset,
			Rent:           y.Rent,
			Expenses:       y.Expenses,
			NetIncome:      y.NetIncome,
			Tax:            y.Tax,
			AfterTaxIncome: y.AfterTaxIncome,
			PortfolioValue: y.PortfolioValue,
			Display: map[string]string{
				"rent":           format.FormatCurrency(y.Rent, false),
				"expenses":       format.FormatCurrency(y.Expenses, false),
				"netIncome":      format.FormatCurrency(y.NetIncome, false),
				"tax":            format.FormatCurrency(y.Tax, false),
				"afterTaxIncome": format.FormatCurrency(y.AfterTaxIncome, true),
				"portfolioValue": format.FormatCompactCurrency(y.PortfolioValue),
			},
		})
	}
	return openapi.Projection{
		PortfolioID:       p.PortfolioID,
		StartYear:         p.StartYear,
		PropertyCount:     p.PropertyCount,
		TargetIncome:      p.Globals.TargetIncome,
		TargetReachedYear: p.TargetReachedYear,
		Years:             years,
	}
}
