package model

import (
	"time"

	"github.com/google/uuid"
)

// Известные ключи PropertyData.
const (
	PropertyKeyName           = "name"
	PropertyKeyType           = "type"
	PropertyKeyAddress        = "address"
	PropertyKeyPurchasePrice  = "purchasePrice"
	PropertyKeyCurrentValue   = "currentValue"
	PropertyKeyPurchaseDate   = "purchaseDate"
	PropertyKeyStrategy       = "strategy"
	PropertyKeyAnnualRent     = "annualRent"
	PropertyKeyAnnualExpenses = "annualExpenses"
	PropertyKeyDescription    = "description"
)

// PropertyData — слабо типизированные атрибуты объекта.
// Числа могут прийти как строками, так и числами.
type PropertyData map[string]any

// Name возвращает имя объекта или пустую строку.
func (d PropertyData) Name() string {
	s, _ := d[PropertyKeyName].(string)
	return s
}

// Property — объект недвижимости внутри портфеля.
// Хранится в таблице properties.
type Property struct {
	// ID — UUID объекта
	ID uuid.UUID
	// PortfolioID — портфель-владелец, не меняется после создания
	PortfolioID uuid.UUID
	// Data — атрибуты объекта
	Data PropertyData
	// CreatedAt — время создания
	CreatedAt time.Time
}
