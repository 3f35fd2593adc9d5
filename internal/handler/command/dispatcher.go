// Package command consumes command events, drives the engine, and publishes
// result notifications.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledger/internal/app/ledger"
	"ledger/internal/app/policy"
	"ledger/internal/dedup"
	"ledger/internal/domain"
	"ledger/internal/domain/event"
	kafka_infra "ledger/internal/infrastructure/kafka"
	"ledger/internal/link"
	"ledger/internal/util"
)

type Dispatcher struct {
	ledger      ledger.Service
	policy      policy.Service
	links       link.Service
	seen        *dedup.Set
	producer    kafka_infra.Producer
	resultTopic string
	logger      *zap.Logger
}

func NewDispatcher(
	ledgerSvc ledger.Service,
	policySvc policy.Service,
	linkSvc link.Service,
	seen *dedup.Set,
	producer kafka_infra.Producer,
	resultTopic string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		ledger:      ledgerSvc,
		policy:      policySvc,
		links:       linkSvc,
		seen:        seen,
		producer:    producer,
		resultTopic: resultTopic,
		logger:      logger,
	}
}

// Handle is the consumer's MessageHandler. It always returns nil once the
// event has been identified: a mutation that already persisted must never be
// replayed because a later step failed, so the offset always commits.
func (d *Dispatcher) Handle(ctx context.Context, msg kafka.Message) error {
	var evt event.CommandEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		d.logger.Warn("dropping malformed command event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if evt.EventID == "" || evt.Command == "" {
		d.logger.Warn("dropping command event without id or command",
			zap.Int64("offset", msg.Offset))
		return nil
	}
	if !d.seen.MarkOnce(evt.EventID) {
		d.logger.Debug("skipping duplicate command event",
			zap.String("event_id", evt.EventID),
			zap.String("command", evt.Command))
		return nil
	}

	data, err := d.dispatch(ctx, &evt)
	d.publishResult(ctx, &evt, data, err)
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	switch evt.Command {
	case "create-account":
		return d.createAccount(ctx, evt)
	case "check-balance":
		return d.checkBalance(ctx, evt)
	case "peer-transfer":
		return d.peerTransfer(ctx, evt)
	case "account-transfer":
		return d.accountTransfer(ctx, evt)
	case "public-account-transfer":
		return d.publicTransfer(ctx, evt)
	case "transaction-history":
		return d.history(ctx, evt)
	case "freeze":
		return d.setFrozen(ctx, evt, true)
	case "unfreeze":
		return d.setFrozen(ctx, evt, false)
	case "admin-set-balance":
		return d.setBalance(ctx, evt)
	case "list-accounts":
		return d.listAccounts(ctx, evt)
	case "create-public-account":
		return d.createPublicAccount(ctx, evt)
	case "confiscate":
		return d.confiscate(ctx, evt)
	case "configure-fee":
		return d.configureFee(ctx, evt)
	case "configure-tax":
		return d.configureTax(ctx, evt)
	case "tax-status":
		return d.taxStatus(ctx)
	case "collect-tax":
		return d.collectTax(ctx, evt)
	case "delete-tax-config":
		err := d.policy.DeleteTaxConfig(ctx, evt.ActorID)
		return nil, err
	case "set-treasury":
		return d.setTreasury(ctx, evt)
	case "set-salary":
		return d.setSalary(ctx, evt)
	case "remove-salary":
		return d.removeSalary(ctx, evt)
	case "link-request":
		return d.linkRequest(ctx, evt)
	case "link-status":
		return d.linkStatus(ctx, evt)
	case "unlink":
		err := d.links.Unlink(ctx, evt.ActorID)
		return nil, err
	default:
		return nil, fmt.Errorf("unknown command %q: %w", evt.Command, domain.ErrInvalidArgument)
	}
}

func (d *Dispatcher) requireAdmin(actorID string) error {
	if !d.policy.IsAdmin(actorID) {
		return fmt.Errorf("actor %s lacks admin privileges: %w", actorID, domain.ErrUnauthorized)
	}
	return nil
}

func (d *Dispatcher) createAccount(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	account, err := d.ledger.CreatePersonalAccount(ctx, evt.ActorID, evt.ActorName)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_number": account.AccountNumber,
		"balance":        account.Balance,
	}, nil
}

func (d *Dispatcher) checkBalance(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	account, err := d.ledger.LookupByOwner(ctx, evt.ActorID)
	if err != nil {
		return nil, err
	}
	frozen, err := d.ledger.IsFrozen(ctx, account.AccountNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_number": account.AccountNumber,
		"display_name":   account.DisplayName,
		"balance":        account.Balance,
		"frozen":         frozen,
	}, nil
}

func (d *Dispatcher) peerTransfer(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		RecipientID string `json:"recipient_id"`
		Amount      int64  `json:"amount"`
		Memo        string `json:"memo"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	receipt, err := d.ledger.Transfer(ctx, evt.ActorID, args.RecipientID, args.Amount, args.Memo)
	if err != nil {
		return nil, err
	}
	return receiptData(receipt), nil
}

func (d *Dispatcher) accountTransfer(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		AccountNumber string `json:"account_number"`
		Amount        int64  `json:"amount"`
		Memo          string `json:"memo"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	receipt, err := d.ledger.TransferByNumber(ctx, evt.ActorID, args.AccountNumber, args.Amount, args.Memo)
	if err != nil {
		return nil, err
	}
	return receiptData(receipt), nil
}

func (d *Dispatcher) publicTransfer(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		PublicNumber    string `json:"public_number"`
		Password        string `json:"password"`
		RecipientNumber string `json:"recipient_number"`
		Amount          int64  `json:"amount"`
		Memo            string `json:"memo"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	receipt, err := d.ledger.PublicTransfer(ctx, args.PublicNumber, args.Password, args.RecipientNumber, args.Amount, args.Memo)
	if err != nil {
		return nil, err
	}
	return receiptData(receipt), nil
}

func (d *Dispatcher) history(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		Count int `json:"count"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	if args.Count == 0 {
		args.Count = 10
	}
	txs, err := d.ledger.History(ctx, evt.ActorID, args.Count)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		entries = append(entries, map[string]any{
			"timestamp": tx.Timestamp.Format(time.RFC3339),
			"type":      string(tx.Type),
			"from":      tx.From,
			"to":        tx.To,
			"amount":    tx.Amount,
			"fee":       tx.Fee,
			"memo":      tx.Memo,
		})
	}
	return map[string]any{"transactions": entries}, nil
}

func (d *Dispatcher) setFrozen(ctx context.Context, evt *event.CommandEvent, frozen bool) (map[string]any, error) {
	if err := d.requireAdmin(evt.ActorID); err != nil {
		return nil, err
	}
	var args struct {
		AccountNumber string `json:"account_number"`
		Reason        string `json:"reason"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	if err := d.ledger.SetFrozen(ctx, args.AccountNumber, frozen, args.Reason); err != nil {
		return nil, err
	}
	return map[string]any{"account_number": args.AccountNumber, "frozen": frozen}, nil
}

func (d *Dispatcher) setBalance(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	if err := d.requireAdmin(evt.ActorID); err != nil {
		return nil, err
	}
	var args struct {
		AccountNumber string `json:"account_number"`
		Balance       int64  `json:"balance"`
		Reason        string `json:"reason"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	old, err := d.ledger.SetBalance(ctx, args.AccountNumber, args.Balance, args.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_number": args.AccountNumber,
		"old_balance":    old,
		"new_balance":    args.Balance,
	}, nil
}

func (d *Dispatcher) listAccounts(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	if err := d.requireAdmin(evt.ActorID); err != nil {
		return nil, err
	}
	statuses, err := d.ledger.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, map[string]any{
			"account_number": st.AccountNumber,
			"display_name":   st.DisplayName,
			"balance":        st.Balance,
			"is_public":      st.IsPublic,
			"frozen":         st.Frozen,
		})
	}
	return map[string]any{"accounts": rows}, nil
}

func (d *Dispatcher) createPublicAccount(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	if err := d.requireAdmin(evt.ActorID); err != nil {
		return nil, err
	}
	var args struct {
		Name           string `json:"name"`
		Password       string `json:"password"`
		InitialBalance int64  `json:"initial_balance"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	account, err := d.ledger.CreatePublicAccount(ctx, args.Name, args.Password, args.InitialBalance, evt.ActorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_number": account.AccountNumber,
		"name":           account.DisplayName,
		"balance":        account.Balance,
	}, nil
}

func (d *Dispatcher) confiscate(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	if err := d.requireAdmin(evt.ActorID); err != nil {
		return nil, err
	}
	var args struct {
		TargetID     string `json:"target_id"`
		Amount       int64  `json:"amount"`
		PublicNumber string `json:"public_number"`
		Memo         string `json:"memo"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	receipt, err := d.ledger.Confiscate(ctx, args.TargetID, args.Amount, args.PublicNumber, args.Memo)
	if err != nil {
		return nil, err
	}
	return receiptData(receipt), nil
}

func (d *Dispatcher) configureFee(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		Enabled   bool    `json:"enabled"`
		MinAmount int64   `json:"min_amount"`
		FeeRate   float64 `json:"fee_rate"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	feePolicy, err := d.policy.ConfigureFee(ctx, evt.ActorID, args.Enabled, args.MinAmount, args.FeeRate)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"enabled":    feePolicy.Enabled,
		"min_amount": feePolicy.MinAmount,
		"fee_rate":   feePolicy.FeeRate,
	}, nil
}

func (d *Dispatcher) configureTax(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		TaxName    string  `json:"tax_name"`
		Rate       float64 `json:"rate"`
		PeriodDays int     `json:"period_days"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	// The policy engine owns the admin check here: a reserved tax name can
	// toggle privileges before any authorization applies.
	outcome, err := d.policy.ConfigureTax(ctx, evt.ActorID, args.TaxName, args.Rate, args.PeriodDays)
	if err != nil {
		return nil, err
	}
	if outcome.Escalation != policy.EscalationNone {
		return map[string]any{"message": outcome.Ack}, nil
	}
	return map[string]any{
		"tax_name":    outcome.Policy.TaxName,
		"rate":        outcome.Policy.Rate,
		"period_days": outcome.Policy.PeriodDays,
	}, nil
}

func (d *Dispatcher) taxStatus(ctx context.Context) (map[string]any, error) {
	taxPolicy, err := d.policy.TaxStatus(ctx)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"enabled":     taxPolicy.Enabled,
		"tax_name":    taxPolicy.TaxName,
		"rate":        taxPolicy.Rate,
		"period_days": taxPolicy.PeriodDays,
	}
	if taxPolicy.LastCollected != nil {
		data["last_collected"] = taxPolicy.LastCollected.Format(time.RFC3339)
	}
	return data, nil
}

func (d *Dispatcher) collectTax(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	report, err := d.policy.CollectTax(ctx, evt.ActorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"collected":       report.Collected,
		"payers":          report.Payers,
		"treasury_number": report.TreasuryNumber,
		"burned":          report.Burned,
	}, nil
}

func (d *Dispatcher) setTreasury(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		AccountNumber string `json:"account_number"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	ref, err := d.policy.SetTreasury(ctx, evt.ActorID, args.AccountNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"account_number": ref.AccountNumber,
		"account_name":   ref.AccountName,
	}, nil
}

func (d *Dispatcher) setSalary(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		OwnerID string `json:"owner_id"`
		Amount  int64  `json:"amount"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	if err := d.policy.SetSalary(ctx, evt.ActorID, args.OwnerID, args.Amount); err != nil {
		return nil, err
	}
	return map[string]any{"owner_id": args.OwnerID, "amount": args.Amount}, nil
}

func (d *Dispatcher) removeSalary(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	var args struct {
		OwnerID string `json:"owner_id"`
	}
	if err := decodeArgs(evt.Args, &args); err != nil {
		return nil, err
	}
	if err := d.policy.RemoveSalary(ctx, evt.ActorID, args.OwnerID); err != nil {
		return nil, err
	}
	return map[string]any{"owner_id": args.OwnerID}, nil
}

func (d *Dispatcher) linkRequest(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	code, expires, err := d.links.IssueCode(ctx, evt.ActorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"code":    code,
		"expires": expires.Format(time.RFC3339),
	}, nil
}

func (d *Dispatcher) linkStatus(ctx context.Context, evt *event.CommandEvent) (map[string]any, error) {
	info, err := d.links.Status(ctx, evt.ActorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"external_id":   info.ExternalID,
		"external_name": info.ExternalName,
		"linked_at":     info.LinkedAt.Format(time.RFC3339),
	}, nil
}

func (d *Dispatcher) publishResult(ctx context.Context, evt *event.CommandEvent, data map[string]any, dispatchErr error) {
	result := event.CommandResult{
		ResultID:  util.GenerateUUID(),
		EventID:   evt.EventID,
		Command:   evt.Command,
		ActorID:   evt.ActorID,
		Status:    event.ResultOK,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if dispatchErr != nil {
		result.Status = event.ResultError
		result.Code = errorCode(dispatchErr)
		result.Message = dispatchErr.Error()
		d.logger.Warn("command failed",
			zap.String("event_id", evt.EventID),
			zap.String("command", evt.Command),
			zap.String("code", result.Code),
			zap.Error(dispatchErr))
	}

	payload, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("failed to encode command result",
			zap.String("event_id", evt.EventID),
			zap.Error(err))
		return
	}
	// Best effort: a lost notification must not undo or replay the command.
	if err := d.producer.Produce(ctx, evt.EventID, d.resultTopic, payload); err != nil {
		d.logger.Error("failed to publish command result",
			zap.String("event_id", evt.EventID),
			zap.String("command", evt.Command),
			zap.Error(err))
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bad command arguments: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func receiptData(r *ledger.TransferReceipt) map[string]any {
	return map[string]any{
		"from":              r.From,
		"to":                r.To,
		"amount":            r.Amount,
		"fee":               r.Fee,
		"sender_balance":    r.SenderBalance,
		"recipient_balance": r.RecipientBalance,
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		return "already_exists"
	case errors.Is(err, domain.ErrAccountFrozen):
		return "frozen_account"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
