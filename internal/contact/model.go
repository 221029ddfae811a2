package contact

import "time"

type Contact struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name,omitempty"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ContactInput struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth *time.Time
}

// ListFilter narrows and pages a contact listing. Filters are exact
// matches; empty values are ignored.
type ListFilter struct {
	Skip      int
	Limit     int
	FirstName string
	LastName  string
	Email     string
}
