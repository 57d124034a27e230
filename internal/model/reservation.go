package model

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

type Reservation struct {
	ID              int               `json:"-" db:"id"`
	ReservationUid  string            `json:"reservationUid" db:"reservation_uid"`
	UserID          int               `json:"-" db:"user_id"`
	Username        string            `json:"username" db:"username"`
	BookID          int               `json:"-" db:"book_id"`
	BookUid         string            `json:"bookUid" db:"book_uid"`
	BookTitle       string            `json:"bookTitle" db:"book_title"`
	ReservationDate time.Time         `json:"reservationDate" db:"reservation_date"`
	ExpiryDate      time.Time         `json:"expiryDate" db:"expiry_date"`
	Status          ReservationStatus `json:"status" db:"status"`
	Priority        int               `json:"priority" db:"priority"`
	FulfilledBy     *int              `json:"-" db:"fulfilled_by"`
	FulfilledDate   *time.Time        `json:"fulfilledDate,omitempty" db:"fulfilled_date"`
}

type CreateReservationRequest struct {
	BookUid    string `json:"bookUid" validate:"required"`
	ExpiryDate Date   `json:"expiryDate" validate:"required"`
	// Username lets staff reserve on behalf of a borrower; defaults to the caller.
	Username string `json:"username"`
}

type ReservationFilter struct {
	Username   string
	BookUid    string
	ActiveOnly bool
	Page       int
	Size       int
}

type ListReservations struct {
	Paging
	Items []Reservation `json:"items"`
}

type ExpireReservationsResponse struct {
	Expired int `json:"expired"`
}
