package ledger

import (
	"strconv"

	"github.com/holiman/uint256"

	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
)

const (
	ActionInitialize         = "initialize"
	ActionInitializeUser     = "initialize_user"
	ActionAddCollateral      = "add_collateral"
	ActionDepositCollateral  = "deposit_collateral"
	ActionWithdrawCollateral = "withdraw_collateral"
	ActionCreateLoan         = "create_loan"
	ActionAcceptLoan         = "accept_loan"
)

// EventTypePrefix namespaces every event emitted by the ledger.
const EventTypePrefix = "ledger."

// EventType returns the event type emitted for action.
func EventType(action string) string {
	return EventTypePrefix + action
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event {
	return e.evt
}

func newEvent(action string, attrs map[string]string) events.Event {
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs["action"] = action
	return ledgerEvent{evt: &types.Event{Type: EventType(action), Attributes: attrs}}
}

func initializeEvent(admin crypto.Address) events.Event {
	return newEvent(ActionInitialize, map[string]string{"admin": admin.String()})
}

func initializeUserEvent(user crypto.Address) events.Event {
	return newEvent(ActionInitializeUser, map[string]string{"user": user.String()})
}

func addCollateralEvent(ticker string, admin crypto.Address) events.Event {
	return newEvent(ActionAddCollateral, map[string]string{
		"collateral": ticker,
		"admin":      admin.String(),
	})
}

func collateralMovementEvent(action string, user crypto.Address, amount *uint256.Int, token string) events.Event {
	return newEvent(action, map[string]string{
		"amount":        types.FormatAmount(amount),
		"token_address": token,
		"user":          user.String(),
	})
}

func loanEvent(action string, user crypto.Address, loanID uint64, token string) events.Event {
	return newEvent(action, map[string]string{
		"loan_id":       strconv.FormatUint(loanID, 10),
		"token_address": token,
		"user":          user.String(),
	})
}
