// projection.go — многолетняя проекция денежного потока портфеля.
// Кредиты и эффекты стратегий в расчёт не входят.
package service

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/bigkaa/propfolio/internal/domain/model"
	"github.com/bigkaa/propfolio/internal/format"
)

// Границы горизонта проекции.
const (
	DefaultProjectionYears = 30
	MaxProjectionYears     = 50
)

// ProjectionService строит проекцию по портфелю пользователя.
type ProjectionService struct {
	portfolios *PortfolioService
}

// NewProjectionService создаёт ProjectionService.
func NewProjectionService(portfolios *PortfolioService) *ProjectionService {
	return &ProjectionService{portfolios: portfolios}
}

// Project читает портфель и его объекты и строит проекцию на years лет.
func (s *ProjectionService) Project(
	ctx context.Context, user *model.AuthenticatedUser, portfolioID uuid.UUID, years int,
) (*model.Projection, error) {
	if years < 1 || years > MaxProjectionYears {
		return nil, validationf("years должен быть от 1 до %d", MaxProjectionYears)
	}

	portfolio, err := s.portfolios.GetPortfolio(ctx, user, portfolioID)
	if err != nil {
		return nil, err
	}
	properties, err := s.portfolios.propertiesOf(ctx, user, portfolio)
	if err != nil {
		return nil, err
	}

	return BuildProjection(portfolio, properties, years), nil
}

// propertyBase — стартовые значения объекта.
type propertyBase struct {
	rent     float64
	expenses float64
	value    float64
}

// BuildProjection рассчитывает проекцию. Для года t (с нуля):
// аренда растёт на rentGrowth, расходы на expenseInflation, стоимость
// на capitalGrowth; налог = чистый доход * (marginalTax + medicare),
// отрицательный чистый доход даёт налоговый вычет.
func BuildProjection(portfolio *model.Portfolio, properties []*model.Property, years int) *model.Projection {
	g := portfolio.Globals
	startYear := portfolio.StartYear
	if startYear == 0 {
		startYear = g.StartYear
	}

	bases := make([]propertyBase, 0, len(properties))
	for _, p := range properties {
		bases = append(bases, propertyBase{
			rent:     amount(p.Data, model.PropertyKeyAnnualRent),
			expenses: amount(p.Data, model.PropertyKeyAnnualExpenses),
			value:    propertyValue(p.Data),
		})
	}

	proj := &model.Projection{
		PortfolioID:   portfolio.ID,
		StartYear:     startYear,
		Globals:       g,
		PropertyCount: len(bases),
		Years:         make([]model.ProjectionYear, 0, years),
	}

	taxRate := g.MarginalTax + g.Medicare
	for t := 0; t < years; t++ {
		rentFactor := math.Pow(1+g.RentGrowth, float64(t))
		expenseFactor := math.Pow(1+g.ExpenseInflation, float64(t))
		valueFactor := math.Pow(1+g.CapitalGrowth, float64(t))

		var y model.ProjectionYear
		y.Year = startYear + t
		y.Offset = t
		for _, b := range bases {
			y.Rent += b.rent * rentFactor
			y.Expenses += b.expenses * expenseFactor
			y.PortfolioValue += b.value * valueFactor
		}
		y.NetIncome = y.Rent - y.Expenses
		y.Tax = y.NetIncome * taxRate
		y.AfterTaxIncome = y.NetIncome - y.Tax

		y.Rent = roundCents(y.Rent)
		y.Expenses = roundCents(y.Expenses)
		y.NetIncome = roundCents(y.NetIncome)
		y.Tax = roundCents(y.Tax)
		y.AfterTaxIncome = roundCents(y.AfterTaxIncome)
		y.PortfolioValue = roundCents(y.PortfolioValue)

		if proj.TargetReachedYear == nil && g.TargetIncome > 0 && y.AfterTaxIncome >= g.TargetIncome {
			year := y.Year
			proj.TargetReachedYear = &year
		}
		proj.Years = append(proj.Years, y)
	}

	return proj
}

// amount читает числовое поле объекта; некорректное значение — 0.
func amount(data model.PropertyData, key string) float64 {
	d, ok := format.ParseAmount(data[key])
	if !ok {
		return 0
	}
	return d.InexactFloat64()
}

// propertyValue — текущая стоимость, а при её отсутствии цена покупки.
func propertyValue(data model.PropertyData) float64 {
	if d, ok := format.ParseAmount(data[model.PropertyKeyCurrentValue]); ok {
		return d.InexactFloat64()
	}
	return amount(data, model.PropertyKeyPurchasePrice)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
