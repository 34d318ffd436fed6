package checkout

import (
	"errors"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/backend"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

// State is the lifecycle position of a checkout session.
type State string

const (
	StateIdle       State = "idle"
	StateComputing  State = "computing"
	StateSelected   State = "selected"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateRejected   State = "rejected"
)

var (
	// ErrStale is returned when a response belongs to a superseded request.
	ErrStale = errors.New("checkout: stale response")
	// ErrSubmitting is returned for mutations while an order is in flight.
	ErrSubmitting = errors.New("checkout: order submission in progress")
	// ErrClosed is returned for mutations after the order was confirmed.
	ErrClosed = errors.New("checkout: session already confirmed")
	// ErrNothingSelected is returned when submitting without selected lines.
	ErrNothingSelected = errors.New("checkout: no items selected")
	// ErrFeeUnknown is returned when submitting before a shipping fee was quoted.
	ErrFeeUnknown = errors.New("checkout: shipping fee not quoted")
	// ErrNotReady is returned when submitting while a fee quote is pending
	// or after a stock rejection that has not been fixed in the cart.
	ErrNotReady = errors.New("checkout: session not ready for submission")
)

// Rejection kinds.
const (
	RejectionVoucher = "voucher"
	RejectionStock   = "stock"
	RejectionFailure = "failure"
)

// Rejection describes why the last submission did not go through.
type Rejection struct {
	Kind        string              `json:"kind"`
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	VoucherCode string              `json:"voucher_code,omitempty"`
	Items       []backend.Shortfall `json:"items,omitempty"`
}

// Session is one user's checkout. Every network-bound step takes a ticket
// before the call and presents it with the answer; answers holding an
// outdated ticket are discarded.
type Session struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	State       State                `json:"state"`
	Items       []pricing.LineItem   `json:"items"`
	Destination string               `json:"destination,omitempty"`
	ShippingFee pricing.Amount       `json:"shipping_fee"`
	Allocations []voucher.Allocation `json:"allocations"`
	Overrides   voucher.Overrides    `json:"overrides"`
	Excluded    []string             `json:"excluded,omitempty"`

	FeeTicket     uint64 `json:"fee_ticket"`
	VoucherTicket uint64 `json:"voucher_ticket"`
	Attempt       uint64 `json:"attempt"`

	Result      *Result    `json:"result,omitempty"`
	Rejection   *Rejection `json:"rejection,omitempty"`
	OrderID     string     `json:"order_id,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSession starts an idle session.
func NewSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) mutable() error {
	switch s.State {
	case StateSubmitting:
		return ErrSubmitting
	case StateConfirmed:
		return ErrClosed
	}
	return nil
}

// Input returns the calculator input for the current session data.
func (s *Session) Input() Input {
	return Input{
		Items:       s.Items,
		Allocations: s.Allocations,
		ShippingFee: s.ShippingFee.OrZero(),
		Overrides:   s.Overrides,
		Excluded:    s.Excluded,
	}
}

func (s *Session) recompute(calc Calculator) {
	s.State = StateComputing
	result := calc.Compute(s.Input())
	s.Result = &result
	s.State = StateSelected
	s.UpdatedAt = calc.now()
}

// UpdateCart replaces the cart lines. Outstanding fee quotes are invalidated
// and manual voucher picks are dropped.
func (s *Session) UpdateCart(items []pricing.LineItem, calc Calculator) error {
	if err := s.mutable(); err != nil {
		return err
	}
	s.Items = items
	s.FeeTicket++
	s.Overrides = voucher.Overrides{}
	s.Rejection = nil
	s.recompute(calc)
	return nil
}

// BeginFeeQuote records a new destination and returns the ticket the quote
// must present.
func (s *Session) BeginFeeQuote(destination string) (uint64, error) {
	if err := s.mutable(); err != nil {
		return 0, err
	}
	s.Destination = destination
	s.FeeTicket++
	s.State = StateComputing
	return s.FeeTicket, nil
}

// ApplyFee stores a quoted fee if ticket is still current.
func (s *Session) ApplyFee(ticket uint64, fee pricing.Money, calc Calculator) error {
	if ticket != s.FeeTicket {
		return ErrStale
	}
	if err := s.mutable(); err != nil {
		return err
	}
	s.ShippingFee = pricing.AmountOf(pricing.NonNegative(fee))
	s.Overrides = voucher.Overrides{}
	s.recompute(calc)
	return nil
}

// FailFee settles a quote that errored, keeping the previous fee.
func (s *Session) FailFee(ticket uint64, calc Calculator) error {
	if ticket != s.FeeTicket {
		return ErrStale
	}
	if err := s.mutable(); err != nil {
		return err
	}
	s.recompute(calc)
	return nil
}

// BeginVoucherRefresh returns the ticket an owned-voucher fetch must present.
func (s *Session) BeginVoucherRefresh() (uint64, error) {
	if err := s.mutable(); err != nil {
		return 0, err
	}
	s.VoucherTicket++
	return s.VoucherTicket, nil
}

// ApplyVouchers stores a fetched voucher list if ticket is still current.
// Manual picks survive; one whose allocation vanished reverts to automatic.
func (s *Session) ApplyVouchers(ticket uint64, allocs []voucher.Allocation, calc Calculator) error {
	if ticket != s.VoucherTicket {
		return ErrStale
	}
	if err := s.mutable(); err != nil {
		return err
	}
	s.Allocations = allocs
	s.recompute(calc)
	return nil
}

// SetOverride records a manual pick for a category; nil restores automatic.
func (s *Session) SetOverride(c voucher.Category, pick *voucher.Pick, calc Calculator) error {
	if err := s.mutable(); err != nil {
		return err
	}
	s.Overrides.Set(c, pick)
	s.recompute(calc)
	return nil
}

// BeginSubmit recomputes the totals, moves the session to Submitting and
// returns the attempt the order answer must present.
func (s *Session) BeginSubmit(calc Calculator) (uint64, error) {
	if err := s.mutable(); err != nil {
		return 0, err
	}
	if s.State == StateComputing {
		return 0, ErrNotReady
	}
	if s.State == StateRejected && s.Rejection != nil && s.Rejection.Kind == RejectionStock {
		return 0, ErrNotReady
	}
	s.recompute(calc)
	if !s.Result.Subtotal.IsPositive() {
		return 0, ErrNothingSelected
	}
	if !s.ShippingFee.Valid {
		return 0, ErrFeeUnknown
	}
	now := calc.now()
	s.Attempt++
	s.State = StateSubmitting
	s.Rejection = nil
	s.SubmittedAt = &now
	s.UpdatedAt = now
	return s.Attempt, nil
}

func (s *Session) settle(attempt uint64) error {
	if attempt != s.Attempt || s.State != StateSubmitting {
		return ErrStale
	}
	return nil
}

// Confirm records the created order.
func (s *Session) Confirm(attempt uint64, orderID string, now time.Time) error {
	if err := s.settle(attempt); err != nil {
		return err
	}
	s.State = StateConfirmed
	s.OrderID = orderID
	s.UpdatedAt = now
	return nil
}

// RejectVoucher handles a voucher refused by the order service: the code is
// excluded from future candidate sets, the manual pick for its category is
// cleared and the totals are recomputed. With no code reported every
// submitted voucher is excluded.
func (s *Session) RejectVoucher(attempt uint64, rej Rejection, calc Calculator) error {
	if err := s.settle(attempt); err != nil {
		return err
	}
	codes := []string{rej.VoucherCode}
	if rej.VoucherCode == "" && s.Result != nil {
		codes = codes[:0]
		for _, code := range []*string{s.Result.ShopVoucherCode, s.Result.ShipVoucherCode} {
			if code != nil {
				codes = append(codes, *code)
			}
		}
	}
	for _, code := range codes {
		if s.Result == nil {
			break
		}
		for _, c := range []voucher.Category{voucher.CategoryShop, voucher.CategoryShip} {
			if choice := s.Result.Selection.For(c); choice != nil && choice.Allocation.Code() == code {
				s.Overrides.Set(c, nil)
			}
		}
	}
	s.Excluded = addExcluded(s.Excluded, codes...)
	rej.Kind = RejectionVoucher
	s.Rejection = &rej
	s.recompute(calc)
	return nil
}

// RejectStock ends the attempt with the list of unavailable lines.
func (s *Session) RejectStock(attempt uint64, rej Rejection, now time.Time) error {
	if err := s.settle(attempt); err != nil {
		return err
	}
	rej.Kind = RejectionStock
	s.Rejection = &rej
	s.State = StateRejected
	s.UpdatedAt = now
	return nil
}

// Fail ends the attempt with a generic failure such as a timeout.
func (s *Session) Fail(attempt uint64, code, message string, now time.Time) error {
	if err := s.settle(attempt); err != nil {
		return err
	}
	s.Rejection = &Rejection{Kind: RejectionFailure, Code: code, Message: message}
	s.State = StateRejected
	s.UpdatedAt = now
	return nil
}

// ExpireSubmission fails a submission that has been in flight longer than
// timeout. It reports whether the session changed.
func (s *Session) ExpireSubmission(now time.Time, timeout time.Duration) bool {
	if s.State != StateSubmitting || s.SubmittedAt == nil || timeout <= 0 {
		return false
	}
	if now.Sub(*s.SubmittedAt) < timeout {
		return false
	}
	_ = s.Fail(s.Attempt, CodeSubmitTimeout, "no answer from the order service in time", now)
	return true
}

// Abandon detaches the session from every outstanding request. Late answers
// then carry stale tickets and are discarded.
func (s *Session) Abandon(now time.Time) {
	if s.State == StateConfirmed {
		return
	}
	s.Attempt++
	s.FeeTicket++
	s.VoucherTicket++
	s.State = StateIdle
	s.SubmittedAt = nil
	s.UpdatedAt = now
}
