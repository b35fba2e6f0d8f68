package models

// Course is the catalogue entry a session is scheduled from.
type Course struct {
	ID          string  `db:"id" json:"id"`
	Title       string  `db:"title" json:"title"`
	Category    string  `db:"category" json:"category"`
	Description string  `db:"description" json:"description"`
	Price       float64 `db:"price" json:"price"`
	Level       string  `db:"level" json:"level"`
}
