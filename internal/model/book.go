package model

import "time"

type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookUnavailable BookStatus = "unavailable"
	BookMaintenance BookStatus = "maintenance"
)

type Book struct {
	ID              int        `json:"-" db:"id"`
	BookUid         string     `json:"bookUid" db:"book_uid"`
	Title           string     `json:"title" db:"title"`
	Author          string     `json:"author" db:"author"`
	Category        string     `json:"category" db:"category"`
	ISBN            string     `json:"isbn" db:"isbn"`
	Status          BookStatus `json:"status" db:"status"`
	TotalCopies     int        `json:"totalCopies" db:"total_copies"`
	AvailableCopies int        `json:"availableCopies" db:"available_copies"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
}

type CreateBookRequest struct {
	Title       string `json:"title" validate:"required"`
	Author      string `json:"author" validate:"required"`
	Category    string `json:"category"`
	ISBN        string `json:"isbn"`
	TotalCopies int    `json:"totalCopies" validate:"min=0"`
}

type UpdateBookRequest struct {
	Title    *string     `json:"title"`
	Author   *string     `json:"author"`
	Category *string     `json:"category"`
	ISBN     *string     `json:"isbn"`
	Status   *BookStatus `json:"status" validate:"omitempty,oneof=available unavailable maintenance"`
}

// AdjustCopiesRequest is the staff re-stocking operation on the copy pool.
type AdjustCopiesRequest struct {
	TotalCopies     int `json:"totalCopies"`
	AvailableCopies int `json:"availableCopies"`
}

type BookFilter struct {
	Title   string
	Author  string
	ShowAll bool
	Page    int
	Size    int
}

type ListBooks struct {
	Paging
	Items []Book `json:"items"`
}
