package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/lootbox/internal/adapters/repository"
	"github.com/okian/lootbox/internal/domain/model"
	"github.com/okian/lootbox/pkg/logger"
	"github.com/okian/lootbox/pkg/metrics"
)

// idempotencyNamespace derives stable spin ids from idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1c8a52-3f0e-4c55-9a43-1d2b7e4c9a10")

// SpinRequest is a spin addressed by box id.
type SpinRequest struct {
	CustomerID     string
	BoxID          string
	IdempotencyKey string
}

// SpinBox resolves the box and runs the spin. With an idempotency key, a
// repeated request returns the recorded outcome with Replayed set instead of
// debiting again.
func (s *Service) SpinBox(ctx context.Context, req SpinRequest) (model.SpinOutcome, error) {
	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.BoxID) == "" {
		metrics.RecordSpin(req.BoxID, metrics.OutcomeInvalid)
		return model.SpinOutcome{}, fmt.Errorf("%w: customerId and boxId are required", ErrInvalidInput)
	}
	box, ok := s.boxes.LookupBox(req.BoxID)
	if !ok {
		metrics.RecordSpin(req.BoxID, metrics.OutcomeInvalid)
		return model.SpinOutcome{}, fmt.Errorf("%w: %q", ErrUnknownBox, req.BoxID)
	}
	if req.IdempotencyKey == "" {
		return s.Spin(ctx, req.CustomerID, box)
	}

	key := idempotencyScope(req.CustomerID, req.IdempotencyKey)
	spinID := uuid.NewSHA1(idempotencyNamespace, []byte(key)).String()

	if s.deduper.SeenAndRecord(ctx, key) {
		return s.replay(ctx, req.CustomerID, box.ID, spinID)
	}
	// The key may have been evicted from memory or recorded before a
	// restart; the ledger is authoritative.
	switch _, err := s.ledger.Get(ctx, spinID); {
	case err == nil:
		return s.replay(ctx, req.CustomerID, box.ID, spinID)
	case !errors.Is(err, repository.ErrNotFound):
		s.deduper.Unrecord(ctx, key)
		metrics.RecordLedgerError("get")
		metrics.RecordSpin(box.ID, metrics.OutcomeStoreUnavailable)
		return model.SpinOutcome{}, fmt.Errorf("%w: ledger lookup: %w", ErrStoreUnavailable, err)
	}

	out, err := s.spin(ctx, spinID, req.CustomerID, box)
	if err != nil {
		// Every error from spin happens before the debit.
		s.deduper.Unrecord(ctx, key)
	}
	return out, err
}

// idempotencyScope keys an idempotency key to its customer. The customer id
// is length prefixed so no pair of ids and keys can share a scope.
func idempotencyScope(customerID, key string) string {
	return strconv.Itoa(len(customerID)) + ":" + customerID + "/" + key
}

func (s *Service) replay(ctx context.Context, customerID, boxID, spinID string) (model.SpinOutcome, error) {
	e, err := s.ledger.Get(ctx, spinID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.RecordSpin(boxID, metrics.OutcomeInProgress)
		return model.SpinOutcome{}, ErrSpinInProgress
	case err != nil:
		metrics.RecordLedgerError("get")
		return model.SpinOutcome{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case e.CustomerID != customerID:
		metrics.RecordSpin(boxID, metrics.OutcomeInvalid)
		return model.SpinOutcome{}, fmt.Errorf("%w: spin %s", ErrIdempotencyConflict, spinID)
	case e.Status == model.LedgerPending:
		metrics.RecordSpin(boxID, metrics.OutcomeInProgress)
		return model.SpinOutcome{}, ErrSpinInProgress
	}
	out := e.Outcome()
	out.Replayed = true
	metrics.RecordSpin(boxID, metrics.OutcomeReplayed)
	return out, nil
}

// Spin debits the box price from the customer's balance, draws a prize and
// issues the fulfillment order. Errors are returned only for failures before
// the debit; an order failure after it is reported in FulfillmentError and
// the debit stands.
func (s *Service) Spin(ctx context.Context, customerID string, box model.LootBox) (model.SpinOutcome, error) {
	return s.spin(ctx, uuid.NewString(), customerID, box)
}

func (s *Service) spin(ctx context.Context, spinID, customerID string, box model.LootBox) (model.SpinOutcome, error) {
	start := time.Now()
	out, err := s.doSpin(ctx, spinID, customerID, box)
	metrics.RecordSpinLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	metrics.RecordSpin(box.ID, outcomeLabel(out, err))
	return out, err
}

func (s *Service) doSpin(ctx context.Context, spinID, customerID string, box model.LootBox) (model.SpinOutcome, error) {
	if strings.TrimSpace(customerID) == "" {
		return model.SpinOutcome{}, fmt.Errorf("%w: customerId is required", ErrInvalidInput)
	}
	if len(box.Items) == 0 {
		return model.SpinOutcome{}, fmt.Errorf("%w: box %q has no items", ErrInvalidInput, box.ID)
	}
	if box.PriceCredits < 0 {
		return model.SpinOutcome{}, fmt.Errorf("%w: box %q has a negative price", ErrInvalidConfiguration, box.ID)
	}

	log := s.logger.With(
		logger.String("spinId", spinID),
		logger.String("customerId", customerID),
		logger.String("boxId", box.ID),
	)

	lockStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	lease, err := s.locker.Lock(lockCtx, customerID)
	cancel()
	metrics.RecordLockWait(float64(time.Since(lockStart).Microseconds()) / 1000.0)
	if err != nil {
		return model.SpinOutcome{}, fmt.Errorf("%w: acquire customer lock: %w", ErrStoreUnavailable, err)
	}
	defer lease.Unlock()

	before, err := s.balances.GetBalance(ctx, customerID)
	if err != nil {
		return model.SpinOutcome{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if before < box.PriceCredits {
		return model.SpinOutcome{}, &InsufficientCreditsError{Required: box.PriceCredits, Current: before}
	}

	drawn, err := s.sampler.Sample(box.Items)
	if err != nil {
		return model.SpinOutcome{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	// Another holder may have taken an expired lock and read the same
	// balance; writing now would lose its debit.
	if err := lease.Held(ctx); err != nil {
		log.Warn(ctx, "customer lock lost before debit", logger.Error(err))
		return model.SpinOutcome{}, fmt.Errorf("%w: customer lock: %w", ErrStoreUnavailable, err)
	}

	// From here the caller may no longer abandon the spin. A write that
	// lands after a cancelled request must still be ledgered and fulfilled.
	ctx = context.WithoutCancel(ctx)

	after := before - box.PriceCredits
	writeCtx, cancelWrite := context.WithTimeout(ctx, s.orderTimeout)
	err = s.balances.SetBalance(writeCtx, customerID, after)
	cancelWrite()
	if err != nil {
		return model.SpinOutcome{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	metrics.RecordCreditsDebited(box.PriceCredits)

	out := model.SpinOutcome{
		SpinID:        spinID,
		CustomerID:    customerID,
		BoxID:         box.ID,
		BoxName:       box.DisplayName,
		PriceCredits:  box.PriceCredits,
		CreditsBefore: before,
		CreditsAfter:  after,
		ChosenItem:    drawn.ChosenItem,
		CreatedAt:     s.now().UTC(),
	}
	log.Info(ctx, "credits debited",
		logger.Int64("before", before),
		logger.Int64("after", after),
		logger.String("prizeRef", out.ChosenItem.PrizeRef),
	)

	entry := model.NewLedgerEntry(out)
	recorded := true
	if err := s.ledger.Record(ctx, entry); err != nil {
		recorded = false
		metrics.RecordLedgerError("record")
		log.Error(ctx, "ledger write failed", logger.Error(err))
	}

	orderCtx, cancelOrder := context.WithTimeout(ctx, s.orderTimeout)
	orderID, err := s.orders.CreateOrder(orderCtx, customerID, out.ChosenItem.PrizeRef,
		model.FulfillmentNote(box.DisplayName, out.ChosenItem.DisplayName))
	cancelOrder()

	if err != nil {
		out.FulfillmentError = err.Error()
		metrics.RecordFulfillmentFailure()
		log.Warn(ctx, "fulfillment failed after debit", logger.Error(err))
		if recorded {
			if merr := s.ledger.MarkFailed(ctx, spinID, out.FulfillmentError); merr != nil {
				metrics.RecordLedgerError("mark_failed")
				log.Error(ctx, "ledger update failed", logger.Error(merr))
			} else {
				entry.Status = model.LedgerFailed
				entry.LastError = out.FulfillmentError
				entry.Attempts = 1
				s.enqueueRetry(ctx, entry)
			}
		}
		return out, nil
	}

	out.FulfillmentOrderID = orderID
	log.Info(ctx, "prize fulfilled", logger.String("orderId", orderID))
	if recorded {
		if merr := s.ledger.MarkFulfilled(ctx, spinID, orderID); merr != nil {
			metrics.RecordLedgerError("mark_fulfilled")
			log.Error(ctx, "ledger update failed", logger.Error(merr))
		}
	}
	return out, nil
}

func outcomeLabel(out model.SpinOutcome, err error) string {
	switch {
	case err == nil && out.Fulfilled():
		return metrics.OutcomeSuccess
	case err == nil:
		return metrics.OutcomeFulfillmentFailed
	case errors.Is(err, ErrInsufficientCredits):
		return metrics.OutcomeInsufficient
	case errors.Is(err, ErrStoreUnavailable):
		return metrics.OutcomeStoreUnavailable
	default:
		return metrics.OutcomeInvalid
	}
}
