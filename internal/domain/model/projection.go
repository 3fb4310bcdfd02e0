package model

import "github.com/google/uuid"

// ProjectionYear — агрегаты портфеля за один год проекции.
type ProjectionYear struct {
	// Year — календарный год (StartYear + смещение)
	Year int
	// Offset — номер года от начала проекции, с нуля
	Offset int
	Rent           float64
	Expenses       float64
	NetIncome      float64
	Tax            float64
	AfterTaxIncome float64
	PortfolioValue float64
}

// Projection — многолетняя проекция денежного потока портфеля.
type Projection struct {
	PortfolioID uuid.UUID
	StartYear   int
	Globals     GlobalAssumptions
	// PropertyCount — число объектов, вошедших в расчёт
	PropertyCount int
	Years         []ProjectionYear
	// TargetReachedYear — первый год, когда доход после налогов >= TargetIncome
	TargetReachedYear *int
}
