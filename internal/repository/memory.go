package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openshelf/library-service/internal/errs"
	"github.com/openshelf/library-service/internal/model"
)

// Memory is an in-process Repository with the same atomicity semantics
// as the postgres implementation: every WithinTx body runs serialized
// and rolls back on error. Service tests run against it instead of a
// database.
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	users        map[int]model.User
	books        map[int]model.Book
	loans        map[int]model.Loan
	fines        map[int]model.Fine
	reservations map[int]model.Reservation
	nextID       int
}

func NewMemory() *Memory {
	return &Memory{
		state: memoryState{
			users:        map[int]model.User{},
			books:        map[int]model.Book{},
			loans:        map[int]model.Loan{},
			fines:        map[int]model.Fine{},
			reservations: map[int]model.Reservation{},
			nextID:       1,
		},
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		users:        make(map[int]model.User, len(s.users)),
		books:        make(map[int]model.Book, len(s.books)),
		loans:        make(map[int]model.Loan, len(s.loans)),
		fines:        make(map[int]model.Fine, len(s.fines)),
		reservations: make(map[int]model.Reservation, len(s.reservations)),
		nextID:       s.nextID,
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.books {
		out.books[k] = v
	}
	for k, v := range s.loans {
		out.loans[k] = v
	}
	for k, v := range s.fines {
		out.fines[k] = v
	}
	for k, v := range s.reservations {
		out.reservations[k] = v
	}
	return out
}

type memTxKey struct{}

func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, struct{}{})); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// run executes op under the lock unless the context already holds it.
func (m *Memory) run(ctx context.Context, op func(s *memoryState) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return op(&m.state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return op(&m.state)
}

func (s *memoryState) id() int {
	id := s.nextID
	s.nextID++
	return id
}

// --- Users ---

func (m *Memory) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	var created model.User
	err := m.run(ctx, func(s *memoryState) error {
		for _, u := range s.users {
			if u.Username == user.Username {
				return errs.ErrUsernameTaken
			}
		}
		user.ID = s.id()
		user.UserUid = uuid.New().String()
		user.Active = true
		user.CreatedAt = time.Now()
		s.users[user.ID] = user
		created = user
		return nil
	})
	return created, err
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var found model.User
	err := m.run(ctx, func(s *memoryState) error {
		for _, u := range s.users {
			if u.Username == username {
				found = u
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return found, err
}

func (m *Memory) ListUsers(ctx context.Context, page, size int) (model.ListUsers, error) {
	var out model.ListUsers
	err := m.run(ctx, func(s *memoryState) error {
		for _, u := range s.users {
			out.Items = append(out.Items, u)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
		out.Paging = model.Paging{Page: page, PageSize: size, TotalElements: len(out.Items)}
		return nil
	})
	return out, err
}

func (m *Memory) SetUserActive(ctx context.Context, username string, active bool) error {
	return m.run(ctx, func(s *memoryState) error {
		for id, u := range s.users {
			if u.Username == username {
				u.Active = active
				s.users[id] = u
				return nil
			}
		}
		return errs.ErrNotFound
	})
}

// --- Books ---

func (m *Memory) CreateBook(ctx context.Context, book model.Book) (model.Book, error) {
	var created model.Book
	err := m.run(ctx, func(s *memoryState) error {
		book.ID = s.id()
		book.BookUid = uuid.New().String()
		book.Status = model.BookAvailable
		book.AvailableCopies = book.TotalCopies
		book.CreatedAt = time.Now()
		s.books[book.ID] = book
		created = book
		return nil
	})
	return created, err
}

func (m *Memory) GetBook(ctx context.Context, bookUid string) (model.Book, error) {
	var found model.Book
	err := m.run(ctx, func(s *memoryState) error {
		for _, b := range s.books {
			if b.BookUid == bookUid {
				found = b
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return found, err
}

func (m *Memory) UpdateBook(ctx context.Context, bookUid string, req model.UpdateBookRequest) (model.Book, error) {
	var updated model.Book
	err := m.run(ctx, func(s *memoryState) error {
		for id, b := range s.books {
			if b.BookUid != bookUid {
				continue
			}
			if req.Title != nil {
				b.Title = *req.Title
			}
			if req.Author != nil {
				b.Author = *req.Author
			}
			if req.Category != nil {
				b.Category = *req.Category
			}
			if req.ISBN != nil {
				b.ISBN = *req.ISBN
			}
			if req.Status != nil {
				b.Status = *req.Status
			}
			s.books[id] = b
			updated = b
			return nil
		}
		return errs.ErrNotFound
	})
	return updated, err
}

func (m *Memory) DeleteBook(ctx context.Context, bookUid string) error {
	return m.run(ctx, func(s *memoryState) error {
		for id, b := range s.books {
			if b.BookUid == bookUid {
				delete(s.books, id)
				return nil
			}
		}
		return errs.ErrNotFound
	})
}

func (m *Memory) ListBooks(ctx context.Context, f model.BookFilter) (model.ListBooks, error) {
	var out model.ListBooks
	err := m.run(ctx, func(s *memoryState) error {
		for _, b := range s.books {
			if !f.ShowAll && b.AvailableCopies == 0 {
				continue
			}
			out.Items = append(out.Items, b)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Title < out.Items[j].Title })
		out.Paging = model.Paging{Page: f.Page, PageSize: f.Size, TotalElements: len(out.Items)}
		return nil
	})
	return out, err
}

func (m *Memory) LockBook(ctx context.Context, bookID int) error {
	return m.run(ctx, func(s *memoryState) error {
		if _, ok := s.books[bookID]; !ok {
			return errs.ErrNotFound
		}
		return nil
	})
}

func (m *Memory) ReserveCopy(ctx context.Context, bookID int) error {
	return m.run(ctx, func(s *memoryState) error {
		b, ok := s.books[bookID]
		if !ok {
			return errs.ErrNotFound
		}
		if b.AvailableCopies == 0 || b.Status != model.BookAvailable {
			return errs.ErrBookUnavailable
		}
		b.AvailableCopies--
		s.books[bookID] = b
		return nil
	})
}

func (m *Memory) ReleaseCopy(ctx context.Context, bookID int) error {
	return m.run(ctx, func(s *memoryState) error {
		b, ok := s.books[bookID]
		if !ok {
			return errs.ErrNotFound
		}
		if b.AvailableCopies >= b.TotalCopies {
			return errs.ErrInconsistent
		}
		b.AvailableCopies++
		s.books[bookID] = b
		return nil
	})
}

func (m *Memory) RetireCopy(ctx context.Context, bookID int) error {
	return m.run(ctx, func(s *memoryState) error {
		b, ok := s.books[bookID]
		if !ok {
			return errs.ErrNotFound
		}
		if b.TotalCopies <= b.AvailableCopies {
			return errs.ErrInconsistent
		}
		b.TotalCopies--
		s.books[bookID] = b
		return nil
	})
}

func (m *Memory) AdjustCopies(ctx context.Context, bookID, total, available int) error {
	return m.run(ctx, func(s *memoryState) error {
		b, ok := s.books[bookID]
		if !ok {
			return errs.ErrNotFound
		}
		b.TotalCopies = total
		b.AvailableCopies = available
		s.books[bookID] = b
		return nil
	})
}

// --- Loans ---

func (s *memoryState) decorateLoan(l model.Loan) model.Loan {
	if u, ok := s.users[l.UserID]; ok {
		l.Username = u.Username
	}
	if b, ok := s.books[l.BookID]; ok {
		l.BookUid = b.BookUid
		l.BookTitle = b.Title
	}
	return l
}

func (m *Memory) CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	var created model.Loan
	err := m.run(ctx, func(s *memoryState) error {
		loan.ID = s.id()
		loan.LoanUid = uuid.New().String()
		loan.Status = model.LoanIssued
		loan.FineAmount = decimal.Zero
		s.loans[loan.ID] = loan
		created = s.decorateLoan(loan)
		return nil
	})
	return created, err
}

func (m *Memory) GetLoan(ctx context.Context, loanUid string) (model.Loan, error) {
	var found model.Loan
	err := m.run(ctx, func(s *memoryState) error {
		for _, l := range s.loans {
			if l.LoanUid == loanUid {
				found = s.decorateLoan(l)
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return found, err
}

func (m *Memory) GetLoanForUpdate(ctx context.Context, loanUid string) (model.Loan, error) {
	return m.GetLoan(ctx, loanUid)
}

func (m *Memory) CountOpenLoans(ctx context.Context, userID int) (int, error) {
	var count int
	err := m.run(ctx, func(s *memoryState) error {
		for _, l := range s.loans {
			if l.UserID == userID && l.Status == model.LoanIssued {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (m *Memory) HasOpenLoan(ctx context.Context, userID, bookID int) (bool, error) {
	var has bool
	err := m.run(ctx, func(s *memoryState) error {
		for _, l := range s.loans {
			if l.UserID == userID && l.BookID == bookID && l.Status == model.LoanIssued {
				has = true
				return nil
			}
		}
		return nil
	})
	return has, err
}

func (m *Memory) CloseLoan(ctx context.Context, loanID int, status model.LoanStatus, returnDate time.Time, fineAmount decimal.Decimal, returnedBy int, notes string) error {
	return m.run(ctx, func(s *memoryState) error {
		l, ok := s.loans[loanID]
		if !ok {
			return errs.ErrNotFound
		}
		if l.Status != model.LoanIssued {
			return errs.ErrLoanClosed
		}
		l.Status = status
		l.ReturnDate = &returnDate
		l.FineAmount = fineAmount
		l.ReturnedBy = &returnedBy
		l.Notes = notes
		s.loans[loanID] = l
		return nil
	})
}

func (m *Memory) ExtendLoan(ctx context.Context, loanID int, newDue time.Time, note string) error {
	return m.run(ctx, func(s *memoryState) error {
		l, ok := s.loans[loanID]
		if !ok {
			return errs.ErrNotFound
		}
		if l.Status != model.LoanIssued {
			return errs.ErrLoanClosed
		}
		l.DueDate = newDue
		if l.Notes == "" {
			l.Notes = note
		} else {
			l.Notes += "\n" + note
		}
		s.loans[loanID] = l
		return nil
	})
}

func (m *Memory) ListLoans(ctx context.Context, f model.LoanFilter) (model.ListLoans, error) {
	var out model.ListLoans
	err := m.run(ctx, func(s *memoryState) error {
		now := time.Now()
		for _, l := range s.loans {
			l = s.decorateLoan(l)
			if f.Username != "" && l.Username != f.Username {
				continue
			}
			if f.OverdueOnly && !l.Overdue(now) {
				continue
			}
			out.Items = append(out.Items, l)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
		out.Paging = model.Paging{Page: f.Page, PageSize: f.Size, TotalElements: len(out.Items)}
		return nil
	})
	return out, err
}

func (m *Memory) ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Loan, error) {
	var out []model.Loan
	err := m.run(ctx, func(s *memoryState) error {
		for _, l := range s.loans {
			if l.Status != model.LoanIssued {
				continue
			}
			if l.DueDate.Before(from) || !l.DueDate.Before(to) {
				continue
			}
			out = append(out, s.decorateLoan(l))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
		return nil
	})
	return out, err
}

// --- Fines ---

func (s *memoryState) decorateFine(f model.Fine) model.Fine {
	if u, ok := s.users[f.UserID]; ok {
		f.Username = u.Username
	}
	if f.LoanID != nil {
		if l, ok := s.loans[*f.LoanID]; ok {
			uid := l.LoanUid
			f.LoanUid = &uid
		}
	}
	return f
}

func (m *Memory) CreateFine(ctx context.Context, fine model.Fine) (model.Fine, error) {
	var created model.Fine
	err := m.run(ctx, func(s *memoryState) error {
		if fine.Reason == model.FineOverdue && fine.LoanID != nil {
			for _, f := range s.fines {
				if f.Reason == model.FineOverdue && f.LoanID != nil && *f.LoanID == *fine.LoanID {
					return errs.ErrDuplicateFine
				}
			}
		}
		fine.ID = s.id()
		fine.FineUid = uuid.New().String()
		fine.PaymentStatus = model.PaymentPending
		fine.CreatedAt = time.Now()
		s.fines[fine.ID] = fine
		created = s.decorateFine(fine)
		return nil
	})
	return created, err
}

func (m *Memory) GetFine(ctx context.Context, fineUid string) (model.Fine, error) {
	var found model.Fine
	err := m.run(ctx, func(s *memoryState) error {
		for _, f := range s.fines {
			if f.FineUid == fineUid {
				found = s.decorateFine(f)
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return found, err
}

func (m *Memory) SettleFine(ctx context.Context, fineID int, status model.PaymentStatus, method *string, processedBy int, note string, when time.Time) error {
	return m.run(ctx, func(s *memoryState) error {
		f, ok := s.fines[fineID]
		if !ok {
			return errs.ErrNotFound
		}
		switch f.PaymentStatus {
		case model.PaymentPaid:
			return errs.ErrFinePaid
		case model.PaymentWaived:
			return errs.ErrFineWaived
		}
		f.PaymentStatus = status
		f.PaymentMethod = method
		f.ProcessedBy = &processedBy
		f.Notes = note
		if status == model.PaymentPaid {
			f.PaymentDate = &when
		}
		s.fines[fineID] = f
		return nil
	})
}

func (m *Memory) OutstandingTotal(ctx context.Context, userID int) (decimal.Decimal, error) {
	total := decimal.Zero
	err := m.run(ctx, func(s *memoryState) error {
		for _, f := range s.fines {
			if f.UserID == userID && f.PaymentStatus == model.PaymentPending {
				total = total.Add(f.Amount)
			}
		}
		return nil
	})
	return total, err
}

func (m *Memory) ListFines(ctx context.Context, f model.FineFilter) (model.ListFines, error) {
	var out model.ListFines
	err := m.run(ctx, func(s *memoryState) error {
		for _, fine := range s.fines {
			fine = s.decorateFine(fine)
			if f.Username != "" && fine.Username != f.Username {
				continue
			}
			if f.Status != "" && fine.PaymentStatus != f.Status {
				continue
			}
			out.Items = append(out.Items, fine)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
		out.Paging = model.Paging{Page: f.Page, PageSize: f.Size, TotalElements: len(out.Items)}
		return nil
	})
	return out, err
}

// --- Reservations ---

func (s *memoryState) decorateReservation(r model.Reservation) model.Reservation {
	if u, ok := s.users[r.UserID]; ok {
		r.Username = u.Username
	}
	if b, ok := s.books[r.BookID]; ok {
		r.BookUid = b.BookUid
		r.BookTitle = b.Title
	}
	return r
}

func (m *Memory) CreateReservation(ctx context.Context, rsv model.Reservation) (model.Reservation, error) {
	var created model.Reservation
	err := m.run(ctx, func(s *memoryState) error {
		for _, r := range s.reservations {
			if r.UserID == rsv.UserID && r.BookID == rsv.BookID && r.Status == model.ReservationActive {
				return errs.ErrDuplicateReservation
			}
		}
		rsv.ID = s.id()
		rsv.ReservationUid = uuid.New().String()
		rsv.Status = model.ReservationActive
		s.reservations[rsv.ID] = rsv
		created = s.decorateReservation(rsv)
		return nil
	})
	return created, err
}

func (m *Memory) GetReservation(ctx context.Context, reservationUid string) (model.Reservation, error) {
	var found model.Reservation
	err := m.run(ctx, func(s *memoryState) error {
		for _, r := range s.reservations {
			if r.ReservationUid == reservationUid {
				found = s.decorateReservation(r)
				return nil
			}
		}
		return errs.ErrNotFound
	})
	return found, err
}

func (m *Memory) CountActiveReservations(ctx context.Context, userID int) (int, error) {
	var count int
	err := m.run(ctx, func(s *memoryState) error {
		for _, r := range s.reservations {
			if r.UserID == userID && r.Status == model.ReservationActive {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (m *Memory) CountActiveForBook(ctx context.Context, bookID int) (int, error) {
	var count int
	err := m.run(ctx, func(s *memoryState) error {
		for _, r := range s.reservations {
			if r.BookID == bookID && r.Status == model.ReservationActive {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (m *Memory) CloseReservation(ctx context.Context, id int, to model.ReservationStatus, fulfilledBy *int, when time.Time) error {
	return m.run(ctx, func(s *memoryState) error {
		r, ok := s.reservations[id]
		if !ok {
			return errs.ErrNotFound
		}
		if r.Status != model.ReservationActive {
			return errs.ErrReservationClosed
		}
		r.Status = to
		if to == model.ReservationFulfilled {
			r.FulfilledBy = fulfilledBy
			r.FulfilledDate = &when
		}
		s.reservations[id] = r
		return nil
	})
}

func (m *Memory) RerankBook(ctx context.Context, bookID int) error {
	return m.run(ctx, func(s *memoryState) error {
		var active []model.Reservation
		for _, r := range s.reservations {
			if r.BookID == bookID && r.Status == model.ReservationActive {
				active = append(active, r)
			}
		}
		sort.Slice(active, func(i, j int) bool {
			if active[i].ReservationDate.Equal(active[j].ReservationDate) {
				return active[i].ID < active[j].ID
			}
			return active[i].ReservationDate.Before(active[j].ReservationDate)
		})
		for i, r := range active {
			r.Priority = i + 1
			s.reservations[r.ID] = r
		}
		return nil
	})
}

func (m *Memory) ExpireDue(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var expired []model.Reservation
	err := m.run(ctx, func(s *memoryState) error {
		for id, r := range s.reservations {
			if r.Status == model.ReservationActive && r.ExpiryDate.Before(now) {
				r.Status = model.ReservationExpired
				s.reservations[id] = r
				expired = append(expired, r)
			}
		}
		return nil
	})
	return expired, err
}

func (m *Memory) NextActiveForBook(ctx context.Context, bookID int) (model.Reservation, error) {
	var next model.Reservation
	err := m.run(ctx, func(s *memoryState) error {
		found := false
		for _, r := range s.reservations {
			if r.BookID != bookID || r.Status != model.ReservationActive {
				continue
			}
			if !found || r.Priority < next.Priority {
				next = r
				found = true
			}
		}
		if !found {
			return errs.ErrNotFound
		}
		next = s.decorateReservation(next)
		return nil
	})
	return next, err
}

func (m *Memory) ListReservations(ctx context.Context, f model.ReservationFilter) (model.ListReservations, error) {
	var out model.ListReservations
	err := m.run(ctx, func(s *memoryState) error {
		for _, r := range s.reservations {
			r = s.decorateReservation(r)
			if f.Username != "" && r.Username != f.Username {
				continue
			}
			if f.BookUid != "" && r.BookUid != f.BookUid {
				continue
			}
			if f.ActiveOnly && r.Status != model.ReservationActive {
				continue
			}
			out.Items = append(out.Items, r)
		}
		sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
		out.Paging = model.Paging{Page: f.Page, PageSize: f.Size, TotalElements: len(out.Items)}
		return nil
	})
	return out, err
}
