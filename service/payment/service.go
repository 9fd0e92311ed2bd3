package payment

import (
	"context"
	"database/sql"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"time"
)

const Consumer = "payment"

const (
	reasonInvalidAmount     = "invalid amount"
	reasonUnknownAccount    = "unknown account"
	reasonInsufficientFunds = "insufficient funds"
)

type IService interface {
	// ProcessPayment charges the customer at most once per order and answers
	// with PaymentProcessed or PaymentFailed. A repeated command for a paid
	// order repeats the recorded outcome.
	ProcessPayment(ctx context.Context, messageID string, cmd saga_event.ProcessPayment) error
	GetPayment(ctx context.Context, orderID string) (model.Payment, error)
}

func NewService(repo IRepo, logger logr.Logger) IService {
	return &service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

type service struct {
	repo   IRepo
	logger logr.Logger
	now    func() time.Time
}

func (s service) ProcessPayment(ctx context.Context, messageID string, cmd saga_event.ProcessPayment) error {
	return s.repo.Transact(ctx, func(ctx context.Context) error {
		processed, err := s.repo.IsProcessed(ctx, Consumer, messageID)
		if err != nil {
			return err
		}
		if processed {
			s.logger.V(1).Info("duplicate message ignored", "messageID", messageID, "orderID", cmd.OrderID)
			return nil
		}

		now := s.now()
		payment, err := s.repo.GetPayment(ctx, cmd.OrderID)
		switch {
		case err == nil:
			s.logger.Info("order already charged, repeating outcome", "orderID", cmd.OrderID, "status", payment.Status)
		case commonerrors.Any(err, commonerrors.ErrNotFound):
			if payment, err = s.pay(ctx, cmd, now); err != nil {
				return err
			}
		default:
			return err
		}

		msg, err := saga_event.NewOutboxMessage(saga_event.AggregatePayment, outcome(payment), now)
		if err != nil {
			return err
		}
		if err = s.repo.CreateOutbox(ctx, msg); err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, model.ProcessedMessage{Consumer: Consumer, MessageID: messageID, ProcessedAt: now})
	})
}

func (s service) pay(ctx context.Context, cmd saga_event.ProcessPayment, now time.Time) (model.Payment, error) {
	payment := model.Payment{
		OrderID:    cmd.OrderID,
		CustomerID: cmd.UserID,
		Amount:     cmd.Amount,
		Status:     model.PaymentDeclined,
		CreatedAt:  sql.NullTime{Time: now, Valid: true},
	}

	account, err := s.repo.LockAccountForUpdate(ctx, cmd.UserID)
	switch {
	case !cmd.Amount.IsPositive():
		payment.Reason = reasonInvalidAmount
	case commonerrors.Any(err, commonerrors.ErrNotFound):
		payment.Reason = reasonUnknownAccount
	case err != nil:
		return model.Payment{}, err
	case account.Balance.LessThan(cmd.Amount):
		payment.Reason = reasonInsufficientFunds
	default:
		if err = s.repo.UpdateBalance(ctx, cmd.UserID, account.Balance.Sub(cmd.Amount), now); err != nil {
			return model.Payment{}, err
		}
		payment.Status = model.PaymentSucceeded
		payment.TransactionID = uuid.NewString()
	}

	if err = s.repo.CreatePayment(ctx, payment); err != nil {
		return model.Payment{}, err
	}
	if payment.Status == model.PaymentSucceeded {
		s.logger.Info("payment processed", "orderID", cmd.OrderID, "amount", cmd.Amount.String())
	} else {
		s.logger.Info("payment declined", "orderID", cmd.OrderID, "reason", payment.Reason)
	}
	return payment, nil
}

func outcome(payment model.Payment) saga_event.Message {
	if payment.Status == model.PaymentSucceeded {
		return saga_event.PaymentProcessed{
			OrderID:       payment.OrderID,
			Amount:        payment.Amount,
			UserID:        payment.CustomerID,
			TransactionID: payment.TransactionID,
		}
	}
	return saga_event.PaymentFailed{
		OrderID: payment.OrderID,
		Amount:  payment.Amount,
		UserID:  payment.CustomerID,
		Reason:  payment.Reason,
	}
}

func (s service) GetPayment(ctx context.Context, orderID string) (model.Payment, error) {
	return s.repo.GetPayment(ctx, orderID)
}
