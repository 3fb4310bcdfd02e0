package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultPortfolioName — имя портфеля, если клиент его не передал.
const DefaultPortfolioName = "My Portfolio"

// GlobalAssumptions — финансовые допущения портфеля.
// Хранится в portfolios.globals (JSONB), ключи в camelCase.
type GlobalAssumptions struct {
	StartYear        int     `json:"startYear"`
	MarginalTax      float64 `json:"marginalTax"`
	Medicare         float64 `json:"medicare"`
	RentGrowth       float64 `json:"rentGrowth"`
	ExpenseInflation float64 `json:"expenseInflation"`
	CapitalGrowth    float64 `json:"capitalGrowth"`
	TargetIncome     float64 `json:"targetIncome"`
}

// DefaultGlobals возвращает допущения по умолчанию для нового портфеля.
func DefaultGlobals() GlobalAssumptions {
	return GlobalAssumptions{
		StartYear:        2024,
		MarginalTax:      0.37,
		Medicare:         0.02,
		RentGrowth:       0.03,
		ExpenseInflation: 0.025,
		CapitalGrowth:    0.04,
		TargetIncome:     100000,
	}
}

// GlobalsPatch — частично заданные допущения из запроса.
// nil-поле означает «взять значение по умолчанию».
type GlobalsPatch struct {
	StartYear        *int     `json:"startYear,omitempty"`
	MarginalTax      *float64 `json:"marginalTax,omitempty"`
	Medicare         *float64 `json:"medicare,omitempty"`
	RentGrowth       *float64 `json:"rentGrowth,omitempty"`
	ExpenseInflation *float64 `json:"expenseInflation,omitempty"`
	CapitalGrowth    *float64 `json:"capitalGrowth,omitempty"`
	TargetIncome     *float64 `json:"targetIncome,omitempty"`
}

// MergeGlobals накладывает заданные поля patch поверх base.
func MergeGlobals(base GlobalAssumptions, patch *GlobalsPatch) GlobalAssumptions {
	if patch == nil {
		return base
	}
	if patch.StartYear != nil {
		base.StartYear = *patch.StartYear
	}
	if patch.MarginalTax != nil {
		base.MarginalTax = *patch.MarginalTax
	}
	if patch.Medicare != nil {
		base.Medicare = *patch.Medicare
	}
	if patch.RentGrowth != nil {
		base.RentGrowth = *patch.RentGrowth
	}
	if patch.ExpenseInflation != nil {
		base.ExpenseInflation = *patch.ExpenseInflation
	}
	if patch.CapitalGrowth != nil {
		base.CapitalGrowth = *patch.CapitalGrowth
	}
	if patch.TargetIncome != nil {
		base.TargetIncome = *patch.TargetIncome
	}
	return base
}

// Portfolio — портфель объектов недвижимости.
// Хранится в таблице portfolios.
type Portfolio struct {
	// ID — UUID портфеля
	ID uuid.UUID
	// UserID — владелец, не меняется после создания
	UserID uuid.UUID
	// Name — отображаемое имя
	Name string
	// Globals — финансовые допущения
	Globals GlobalAssumptions
	// StartYear — первый год проекции
	StartYear int
	// IsPrimary — портфель создан автоматически при первом входе
	IsPrimary bool
	// CreatedAt — время создания
	CreatedAt time.Time
}

// NewPortfolio — параметры создания портфеля.
type NewPortfolio struct {
	UserID    uuid.UUID
	Name      string
	Globals   GlobalAssumptions
	StartYear int
	IsPrimary bool
}
