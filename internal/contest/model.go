package contest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a contest.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// TxType classifies a coin ledger row.
type TxType string

const (
	TxPurchase     TxType = "purchase"
	TxExchange     TxType = "exchange"
	TxContestEntry TxType = "contest_entry"
	TxPrize        TxType = "prize"
	TxRefund       TxType = "refund"
)

const (
	// DefaultMinParticipants is the participant floor below which a contest is abandoned at start.
	DefaultMinParticipants = 2

	MoneyPlaces  = int32(4)
	SharesPlaces = int32(8)
)

// DefaultEntryBudget is the fixed number of coins every entry allocates across its holdings.
var DefaultEntryBudget = decimal.NewFromInt(100)

var (
	ErrContestNotFound          = errors.New("contest not found")
	ErrEntryNotFound            = errors.New("entry not found")
	ErrUserNotFound             = errors.New("user not found")
	ErrStockNotFound            = errors.New("stock not found")
	ErrPriceNotFound            = errors.New("price not found")
	ErrInvalidState             = errors.New("invalid contest state")
	ErrInvalidStatus            = errors.New("invalid contest status")
	ErrInvalidContest           = errors.New("invalid contest")
	ErrStatusConflict           = errors.New("contest status changed concurrently")
	ErrUnresolvedValuation      = errors.New("unresolved entry valuations")
	ErrPrizesAlreadyDistributed = errors.New("prizes already distributed")
	ErrDuplicateTransaction     = errors.New("duplicate coin transaction")
	ErrAlreadyJoined            = errors.New("user already joined contest")
	ErrContestFull              = errors.New("contest is full")
	ErrInsufficientCoins        = errors.New("insufficient coins")
	ErrInvalidAllocation        = errors.New("invalid allocation")
	ErrInvalidUser              = errors.New("invalid user")
	ErrInvalidPrice             = errors.New("price must be > 0")
	ErrInvalidAmount            = errors.New("invalid coin amount")
	ErrInvalidSymbol            = errors.New("symbol must be 1-10 uppercase letters, digits or dots")
	ErrTxConflict               = errors.New("transaction conflict, retry")
)

var symbolRE = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StatusUpcoming, StatusActive, StatusCompleted, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("%q: %w", v, ErrInvalidStatus)
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the contest state machine.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusUpcoming:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusCompleted
	default:
		return false
	}
}

// InvalidState builds the precondition error surfaced to operators.
func InvalidState(c Contest, want ...Status) error {
	names := make([]string, 0, len(want))
	for _, w := range want {
		names = append(names, string(w))
	}
	return fmt.Errorf("contest %d is %s, expected %s: %w", c.ID, c.Status, strings.Join(names, " or "), ErrInvalidState)
}

// Validate checks the invariants a contest must hold before it is stored.
func (c Contest) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrInvalidContest)
	}
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return fmt.Errorf("start and end time are required: %w", ErrInvalidContest)
	}
	if !c.EndTime.After(c.StartTime) {
		return fmt.Errorf("end time must be after start time: %w", ErrInvalidContest)
	}
	if c.EntryFee.IsNegative() {
		return fmt.Errorf("entry fee must be >= 0: %w", ErrInvalidContest)
	}
	if c.PrizePool.IsNegative() {
		return fmt.Errorf("prize pool must be >= 0: %w", ErrInvalidContest)
	}
	if c.MaxParticipants < 0 {
		return fmt.Errorf("max participants must be >= 0: %w", ErrInvalidContest)
	}
	return nil
}

// Apply merges the non-nil fields of p into c.
func (p ContestPatch) Apply(c Contest) Contest {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.EntryFee != nil {
		c.EntryFee = *p.EntryFee
	}
	if p.PrizePool != nil {
		c.PrizePool = *p.PrizePool
	}
	if p.MaxParticipants != nil {
		c.MaxParticipants = *p.MaxParticipants
	}
	if p.StartTime != nil {
		c.StartTime = p.StartTime.UTC()
	}
	if p.EndTime != nil {
		c.EndTime = p.EndTime.UTC()
	}
	if p.Featured != nil {
		c.Featured = *p.Featured
	}
	return c
}

// Resolved reports whether the entry's results have been computed.
func (e Entry) Resolved() bool {
	return e.FinalPortfolioValue.Valid && e.ROI.Valid
}

func RefundKey(contestID int64, userID string) string {
	return fmt.Sprintf("refund:%d:%s", contestID, userID)
}

func PrizeKey(contestID int64, userID string) string {
	return fmt.Sprintf("prize:%d:%s", contestID, userID)
}

func EntryKey(contestID int64, userID string) string {
	return fmt.Sprintf("entry:%d:%s", contestID, userID)
}

// IsDue reports whether instant at has been reached at now.
func IsDue(now, at time.Time) bool {
	return !now.Before(at)
}
