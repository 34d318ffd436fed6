package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/agrimarket-storefront/internal/backend"
	"github.com/noah-isme/agrimarket-storefront/internal/obs"
	"github.com/noah-isme/agrimarket-storefront/internal/pricing"
	"github.com/noah-isme/agrimarket-storefront/internal/shipping"
	"github.com/noah-isme/agrimarket-storefront/internal/voucher"
)

// Failure codes recorded on rejected sessions.
const (
	CodeSubmitTimeout      = "SUBMIT_TIMEOUT"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// submitGrace lets an in-flight call settle itself before a later request
// declares the submission timed out.
const submitGrace = 5 * time.Second

// ErrShippingUnavailable is returned when no delivery fee could be quoted.
var ErrShippingUnavailable = errors.New("checkout: shipping fee unavailable")

// VoucherSource lists the caller's owned vouchers.
type VoucherSource interface {
	ListMyVouchers(ctx context.Context) ([]voucher.Allocation, error)
}

// OrderCreator submits orders to the order service.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req backend.OrderRequest, idempotencyKey string) (backend.Order, error)
}

// Service drives checkout sessions and stateless quotes.
type Service struct {
	Calc          Calculator
	Store         Store
	Vouchers      VoucherSource
	Orders        OrderCreator
	Shipping      shipping.Quoter
	SubmitTimeout time.Duration
	Logger        zerolog.Logger
	NewID         func() string
}

// QuoteRequest is a stateless computation request. Allocations left out are
// fetched for the caller; a missing fee is quoted when a destination is given.
type QuoteRequest struct {
	Items       []pricing.LineItem   `json:"items" validate:"dive"`
	Allocations []voucher.Allocation `json:"allocations"`
	ShippingFee pricing.Amount       `json:"shipping_fee"`
	Destination string               `json:"destination" validate:"omitempty,max=64"`
	Overrides   voucher.Overrides    `json:"overrides"`
	Excluded    []string             `json:"excluded"`
}

// Quote computes totals without touching any session.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Result, error) {
	allocs := req.Allocations
	fee := req.ShippingFee.OrZero()

	g, gctx := errgroup.WithContext(ctx)
	if allocs == nil {
		g.Go(func() error {
			allocs = s.ownedVouchers(gctx)
			return nil
		})
	}
	destination := strings.TrimSpace(req.Destination)
	if !req.ShippingFee.Valid && destination != "" && s.Shipping != nil {
		g.Go(func() error {
			quoted, err := s.Shipping.Fee(gctx, shipping.FeeRequest{
				Destination: destination,
				WeightGram:  shipping.ParcelWeight(req.Items),
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrShippingUnavailable, err)
			}
			fee = quoted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := s.Calc.Compute(Input{
		Items:       req.Items,
		Allocations: allocs,
		ShippingFee: fee,
		Overrides:   req.Overrides,
		Excluded:    req.Excluded,
	})
	obs.IncQuote("stateless")
	recordSelection(result.Selection)
	return result, nil
}

// ownedVouchers fetches the caller's vouchers. A failed fetch means no
// vouchers: checkout proceeds without discounts.
func (s *Service) ownedVouchers(ctx context.Context) []voucher.Allocation {
	if s.Vouchers == nil {
		return nil
	}
	allocs, err := s.Vouchers.ListMyVouchers(ctx)
	if err != nil {
		obs.IncVoucherFetchFailure()
		obs.Logger(ctx, s.Logger).Warn().Err(err).Msg("owned vouchers unavailable, continuing without discounts")
		return []voucher.Allocation{}
	}
	return allocs
}

func recordSelection(sel voucher.Selection) {
	for _, c := range []voucher.Category{voucher.CategoryShop, voucher.CategoryShip} {
		choice := sel.For(c)
		if choice == nil {
			continue
		}
		mode := "auto"
		if choice.Manual {
			mode = "manual"
		}
		obs.IncVoucherSelection(string(c), mode)
	}
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Create opens a session for the caller with the given cart, loading the
// owned vouchers and quoting the fee when a destination is known.
func (s *Service) Create(ctx context.Context, userID string, items []pricing.LineItem, destination string) (*Session, error) {
	sess := NewSession(s.newID(), userID, s.Calc.now())
	sess.Allocations = s.ownedVouchers(ctx)
	sess.VoucherTicket = 1
	if err := sess.UpdateCart(items, s.Calc); err != nil {
		return nil, err
	}
	if err := s.Store.Save(ctx, sess); err != nil {
		return nil, err
	}
	obs.IncQuote("session")
	if strings.TrimSpace(destination) == "" {
		return sess, nil
	}
	return s.QuoteShipping(ctx, userID, sess.ID, destination)
}

// Get loads the caller's session, failing a submission that outlived the
// submit timeout.
func (s *Service) Get(ctx context.Context, userID, id string) (*Session, error) {
	return s.mutate(ctx, userID, id, func(*Session) error { return nil })
}

// mutate applies fn to the caller's session under its lock.
func (s *Service) mutate(ctx context.Context, userID, id string, fn func(*Session) error) (*Session, error) {
	return s.Store.Update(ctx, id, func(sess *Session) error {
		if sess.UserID != userID {
			return ErrNotFound
		}
		if s.SubmitTimeout > 0 && sess.ExpireSubmission(s.Calc.now(), s.SubmitTimeout+submitGrace) {
			obs.ObserveSubmit("timeout", obs.DurationMillis(s.SubmitTimeout))
			obs.Logger(ctx, s.Logger).Warn().Str("session_id", id).Msg("order submission timed out")
		}
		return fn(sess)
	})
}

// stale records a discarded answer and returns the current session.
func (s *Service) stale(ctx context.Context, kind, userID, id string) (*Session, error) {
	obs.IncStale(kind)
	obs.Logger(ctx, s.Logger).Info().Str("session_id", id).Str("kind", kind).Msg("discarded stale response")
	return s.Get(ctx, userID, id)
}

// UpdateCart replaces the session's cart and re-quotes the fee for the new
// parcel when a destination is set. A failed re-quote keeps the old fee.
func (s *Service) UpdateCart(ctx context.Context, userID, id string, items []pricing.LineItem) (*Session, error) {
	sess, err := s.mutate(ctx, userID, id, func(sess *Session) error {
		return sess.UpdateCart(items, s.Calc)
	})
	if err != nil {
		return nil, err
	}
	obs.IncQuote("session")
	if sess.Destination == "" {
		return sess, nil
	}
	requoted, err := s.QuoteShipping(ctx, userID, id, sess.Destination)
	if err != nil {
		obs.Logger(ctx, s.Logger).Warn().Err(err).Str("session_id", id).Msg("shipping re-quote failed after cart change")
		return s.Get(ctx, userID, id)
	}
	return requoted, nil
}

// QuoteShipping asks for the delivery fee to destination and applies it
// unless a newer quote or cart change superseded the request meanwhile.
func (s *Service) QuoteShipping(ctx context.Context, userID, id, destination string) (*Session, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, shipping.ErrDestinationRequired
	}
	if s.Shipping == nil {
		return nil, ErrShippingUnavailable
	}
	var (
		ticket uint64
		items  []pricing.LineItem
	)
	if _, err := s.mutate(ctx, userID, id, func(sess *Session) error {
		var err error
		ticket, err = sess.BeginFeeQuote(destination)
		items = sess.Items
		return err
	}); err != nil {
		return nil, err
	}

	fee, feeErr := s.Shipping.Fee(ctx, shipping.FeeRequest{
		Destination: destination,
		WeightGram:  shipping.ParcelWeight(items),
	})
	// The ticket must be settled even when the caller went away, otherwise
	// the session stays Computing and cannot be submitted.
	settleCtx := context.WithoutCancel(ctx)
	sess, err := s.mutate(settleCtx, userID, id, func(sess *Session) error {
		if feeErr != nil {
			return sess.FailFee(ticket, s.Calc)
		}
		return sess.ApplyFee(ticket, fee, s.Calc)
	})
	if errors.Is(err, ErrStale) {
		return s.stale(settleCtx, "fee", userID, id)
	}
	if err != nil {
		return nil, err
	}
	if feeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrShippingUnavailable, feeErr)
	}
	obs.IncQuote("session")
	recordSelection(sess.Result.Selection)
	return sess, nil
}

// RefreshVouchers reloads the owned vouchers into the session.
func (s *Service) RefreshVouchers(ctx context.Context, userID, id string) (*Session, error) {
	var ticket uint64
	if _, err := s.mutate(ctx, userID, id, func(sess *Session) error {
		var err error
		ticket, err = sess.BeginVoucherRefresh()
		return err
	}); err != nil {
		return nil, err
	}

	allocs := s.ownedVouchers(ctx)
	settleCtx := context.WithoutCancel(ctx)
	sess, err := s.mutate(settleCtx, userID, id, func(sess *Session) error {
		return sess.ApplyVouchers(ticket, allocs, s.Calc)
	})
	if errors.Is(err, ErrStale) {
		return s.stale(settleCtx, "vouchers", userID, id)
	}
	if err != nil {
		return nil, err
	}
	recordSelection(sess.Result.Selection)
	return sess, nil
}

// SetOverride records a manual voucher pick; a nil pick restores automatic
// selection for the category.
func (s *Service) SetOverride(ctx context.Context, userID, id string, c voucher.Category, pick *voucher.Pick) (*Session, error) {
	sess, err := s.mutate(ctx, userID, id, func(sess *Session) error {
		return sess.SetOverride(c, pick, s.Calc)
	})
	if err != nil {
		return nil, err
	}
	recordSelection(sess.Result.Selection)
	return sess, nil
}

// Abandon detaches the session from in-flight requests.
func (s *Service) Abandon(ctx context.Context, userID, id string) (*Session, error) {
	return s.mutate(ctx, userID, id, func(sess *Session) error {
		sess.Abandon(s.Calc.now())
		return nil
	})
}

// Submit places the order for the session's current totals. The outcome is
// recorded on the session: confirmed, voucher rejection (recomputed without
// the refused voucher), stock rejection or failure.
func (s *Service) Submit(ctx context.Context, userID, id, note string) (*Session, error) {
	var (
		attempt uint64
		req     backend.OrderRequest
	)
	if _, err := s.mutate(ctx, userID, id, func(sess *Session) error {
		var err error
		if attempt, err = sess.BeginSubmit(s.Calc); err != nil {
			return err
		}
		req = orderRequest(sess, note)
		return nil
	}); err != nil {
		return nil, err
	}

	// The order call outlives a client disconnect; only the timeout ends it.
	callCtx := context.WithoutCancel(ctx)
	if s.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, s.SubmitTimeout)
		defer cancel()
	}
	start := time.Now()
	order, orderErr := s.Orders.CreateOrder(callCtx, req, fmt.Sprintf("%s:%d", id, attempt))
	outcome := submitOutcome(orderErr)
	obs.ObserveSubmit(outcome, obs.DurationMillis(time.Since(start)))

	log := obs.Logger(ctx, s.Logger).With().Str("session_id", id).Uint64("attempt", attempt).Str("outcome", outcome).Logger()
	sess, err := s.mutate(context.WithoutCancel(ctx), userID, id, func(sess *Session) error {
		return s.settle(sess, attempt, order, orderErr)
	})
	if errors.Is(err, ErrStale) {
		log.Info().Msg("order answer arrived after the session moved on")
		return s.stale(ctx, "submit", userID, id)
	}
	if err != nil {
		return nil, err
	}
	switch outcome {
	case "confirmed":
		log.Info().Str("order_id", order.ID).Msg("order confirmed")
	default:
		log.Warn().Err(orderErr).Msg("order not placed")
	}
	return sess, nil
}

func (s *Service) settle(sess *Session, attempt uint64, order backend.Order, orderErr error) error {
	now := s.Calc.now()
	var (
		voucherRej *backend.VoucherRejection
		stockRej   *backend.StockRejection
		apiErr     *backend.APIError
	)
	switch {
	case orderErr == nil:
		return sess.Confirm(attempt, order.ID, now)
	case errors.As(orderErr, &voucherRej):
		return sess.RejectVoucher(attempt, Rejection{
			Code:        voucherRej.Code,
			Message:     voucherRej.Message,
			VoucherCode: voucherRej.VoucherCode,
		}, s.Calc)
	case errors.As(orderErr, &stockRej):
		return sess.RejectStock(attempt, Rejection{
			Code:    stockRej.Code,
			Message: stockRej.Message,
			Items:   stockRej.Items,
		}, now)
	case errors.Is(orderErr, context.DeadlineExceeded):
		return sess.Fail(attempt, CodeSubmitTimeout, "no answer from the order service in time", now)
	case errors.As(orderErr, &apiErr) && apiErr.Status < 500 && apiErr.Code != "":
		return sess.Fail(attempt, apiErr.Code, apiErr.Message, now)
	default:
		return sess.Fail(attempt, CodeBackendUnavailable, "the order service is unavailable, please try again", now)
	}
}

func submitOutcome(err error) string {
	var (
		voucherRej *backend.VoucherRejection
		stockRej   *backend.StockRejection
	)
	switch {
	case err == nil:
		return "confirmed"
	case errors.As(err, &voucherRej):
		return "voucher_rejected"
	case errors.As(err, &stockRej):
		return "stock_rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}

// orderRequest builds the submission payload from the freshly computed totals.
func orderRequest(sess *Session, note string) backend.OrderRequest {
	items := make([]backend.OrderItem, 0, len(sess.Items))
	for _, it := range sess.Items {
		if !it.Selected || it.Quantity <= 0 {
			continue
		}
		items = append(items, backend.OrderItem{
			ProductID: it.ProductRef(),
			Quantity:  it.Quantity,
			UnitPrice: pricing.ResolvePrice(it),
		})
	}
	res := sess.Result
	return backend.OrderRequest{
		Items:           items,
		ShopVoucherCode: res.ShopVoucherCode,
		ShipVoucherCode: res.ShipVoucherCode,
		Subtotal:        res.Subtotal,
		ShippingFee:     res.ShippingFee,
		ShopDiscount:    res.ShopDiscount,
		ShipDiscount:    res.ShipDiscount,
		Total:           res.Total,
		Destination:     sess.Destination,
		Note:            strings.TrimSpace(note),
	}
}
