package domain

import "time"

type User struct {
	ID         int64
	TelegramID int64
	Name       string
	Timezone   string
	CreatedAt  time.Time
}

// VariableCategory groups tracked items.
type VariableCategory string

const (
	CategoryCondition   VariableCategory = "condition"
	CategoryTreatment   VariableCategory = "treatment"
	CategoryMeasurement VariableCategory = "measurement"
)

func (c VariableCategory) Valid() bool {
	switch c {
	case CategoryCondition, CategoryTreatment, CategoryMeasurement:
		return true
	}
	return false
}

// GlobalVariable is a trackable item shared by all users (a condition,
// treatment or measurement).
type GlobalVariable struct {
	ID        int64
	Name      string
	Category  VariableCategory
	Unit      string
	CreatedAt time.Time
}

// UserVariable links an owner to a global variable. Reminders hang off it.
type UserVariable struct {
	ID               int64
	UserID           int64
	GlobalVariableID int64
	CreatedAt        time.Time
}
