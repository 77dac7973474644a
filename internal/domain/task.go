package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskDefinition is a catalog entry: a task code worth a fixed number of points.
type TaskDefinition struct {
	Code        string
	Description string
	PointValue  decimal.Decimal
	IsActive    bool
	UpdatedAt   time.Time
}

// Differs reports whether description or point value differ from the given reference.
func (t *TaskDefinition) Differs(description string, pointValue decimal.Decimal) bool {
	return t.Description != description || !t.PointValue.Equal(pointValue)
}
