package agreement

import (
	"bytes"
	"errors"
	"strings"
)

// Call is one incoming transaction as seen by the contract. The host supplies
// the sender and a single timestamp for the whole call.
type Call struct {
	Sender Address
	Now    uint64
	// Create marks the instance-creation call; Args are ignored.
	Create bool
	Args   [][]byte
}

// Action resolves the handler the call is routed to.
func (c Call) Action() (Action, error) {
	if c.Create {
		return ActionCreate, nil
	}
	if len(c.Args) == 0 {
		return ActionUnknown, reject(ActionUnknown, ErrUnknownAction, "no action argument")
	}
	return ParseAction(c.Args[0])
}

// Apply runs one call against st. The transition is all-or-nothing: on error
// st is left untouched and no events are returned.
func Apply(st *State, call Call) ([]Event, error) {
	next := st.Clone()
	events, err := dispatch(&next, call)
	if err != nil {
		return nil, err
	}
	*st = next
	return events, nil
}

func dispatch(st *State, c Call) ([]Event, error) {
	action, err := c.Action()
	if err != nil {
		return nil, err
	}
	if action != ActionCreate {
		if !st.Created {
			return nil, reject(action, ErrState, "instance not created")
		}
		if len(c.Args) != action.ArgCount() {
			return nil, reject(action, ErrArgumentCount, "got %d, want %d", len(c.Args), action.ArgCount())
		}
	}
	switch action {
	case ActionCreate:
		return onCreation(st, c)
	case ActionInitialize:
		return onInitialize(st, c)
	case ActionAddMilestone:
		return onAddMilestone(st, c)
	case ActionCompleteMilestone:
		return onCompleteMilestone(st, c)
	case ActionVerifySignature:
		return onVerifySignature(st, c)
	case ActionExecuteAgreement:
		return onExecuteAgreement(st, c)
	case ActionCancelAgreement:
		return onCancelAgreement(st, c)
	default:
		return nil, reject(action, ErrUnknownAction, "no handler")
	}
}

// --- predicates ---

func requireRole(st *State, a Action, sender Address, allowed Role) error {
	if st.RolesOf(sender)&allowed == 0 {
		return reject(a, ErrUnauthorized, "sender %s", sender)
	}
	return nil
}

func requireStatus(st *State, a Action, allowed ...Status) error {
	for _, s := range allowed {
		if st.Status == s {
			return nil
		}
	}
	return reject(a, ErrState, "status is %s", st.Status)
}

// --- handlers ---

func onCreation(st *State, c Call) ([]Event, error) {
	if st.Created {
		return nil, reject(ActionCreate, ErrState, "instance already created")
	}
	*st = State{
		Created: true,
		Admin:   c.Sender,
		Status:  StatusDraft,
	}
	return []Event{{Name: EventInit, Fields: []Field{addressField("admin", c.Sender)}}}, nil
}

func onInitialize(st *State, c Call) ([]Event, error) {
	const a = ActionInitialize
	if err := requireRole(st, a, c.Sender, RoleAdmin); err != nil {
		return nil, err
	}
	if err := requireStatus(st, a, StatusDraft); err != nil {
		return nil, err
	}
	buyer, err := partyArg(c.Args[1])
	if err != nil {
		return nil, reject(a, ErrInvalidArgument, "buyer: %v", err)
	}
	seller, err := partyArg(c.Args[2])
	if err != nil {
		return nil, reject(a, ErrInvalidArgument, "seller: %v", err)
	}
	if buyer == seller {
		return nil, reject(a, ErrInvalidArgument, "buyer and seller must differ")
	}
	amount, err := Btoi(c.Args[3])
	if err != nil {
		return nil, reject(a, ErrInvalidArgument, "amount: %v", err)
	}
	if len(c.Args[4]) != DocumentHashLength {
		return nil, reject(a, ErrInvalidArgument, "document hash must be %d bytes, got %d", DocumentHashLength, len(c.Args[4]))
	}
	st.Buyer = buyer
	st.Seller = seller
	st.Amount = amount
	st.DocumentHash = append([]byte(nil), c.Args[4]...)
	st.Status = StatusPending
	return []Event{{
		Name: EventAgreementInitialized,
		Fields: []Field{
			addressField("BUYER", buyer),
			addressField("SELLER", seller),
		},
	}}, nil
}

func partyArg(b []byte) (Address, error) {
	addr, err := AddressFromBytes(b)
	if err != nil {
		return addr, err
	}
	if addr.IsZero() {
		return addr, errZeroParty
	}
	return addr, nil
}

var errZeroParty = errors.New("zero address cannot be a party")

func onAddMilestone(st *State, c Call) ([]Event, error) {
	const a = ActionAddMilestone
	if err := requireRole(st, a, c.Sender, RoleAny); err != nil {
		return nil, err
	}
	if err := requireStatus(st, a, StatusDraft, StatusPending); err != nil {
		return nil, err
	}
	title, desc := string(c.Args[1]), string(c.Args[2])
	if strings.IndexByte(title, milestoneSep) >= 0 {
		return nil, reject(a, ErrInvalidArgument, "title must not contain %q", milestoneSep)
	}
	index := st.MilestoneCount()
	st.Milestones = append(st.Milestones, Milestone{Title: title, Description: desc})
	return []Event{{
		Name: EventMilestoneAdded,
		Fields: []Field{
			uintField("INDEX", index),
			stringField("TITLE", title),
		},
	}}, nil
}

func onCompleteMilestone(st *State, c Call) ([]Event, error) {
	const a = ActionCompleteMilestone
	if err := requireRole(st, a, c.Sender, RoleAny); err != nil {
		return nil, err
	}
	if err := requireStatus(st, a, StatusPending); err != nil {
		return nil, err
	}
	index, err := Btoi(c.Args[1])
	if err != nil {
		return nil, reject(a, ErrInvalidArgument, "index: %v", err)
	}
	if index >= st.MilestoneCount() {
		return nil, reject(a, ErrSequence, "milestone %d does not exist (count %d)", index, st.MilestoneCount())
	}
	if index != st.CurrentMilestone {
		return nil, reject(a, ErrSequence, "milestone %d is not next (current %d)", index, st.CurrentMilestone)
	}
	m := &st.Milestones[index]
	if m.Completed {
		return nil, reject(a, ErrSequence, "milestone %d already completed", index)
	}
	m.Completed = true
	m.CompletedAt = c.Now
	st.CurrentMilestone++
	return []Event{{
		Name: EventMilestoneCompleted,
		Fields: []Field{
			uintField("INDEX", index),
			uintField("TIMESTAMP", c.Now),
		},
	}}, nil
}

func onVerifySignature(st *State, c Call) ([]Event, error) {
	const a = ActionVerifySignature
	if err := requireRole(st, a, c.Sender, RoleAny); err != nil {
		return nil, err
	}
	if err := requireStatus(st, a, StatusPending); err != nil {
		return nil, err
	}
	var events []Event
	party := c.Args[1]
	switch {
	case bytes.Equal(party, st.Buyer[:]):
		st.BuyerSigned = true
		st.BuyerSignedAt = c.Now
		events = append(events, Event{Name: EventBuyerSignatureVerified})
	case bytes.Equal(party, st.Seller[:]):
		st.SellerSigned = true
		st.SellerSignedAt = c.Now
		events = append(events, Event{Name: EventSellerSignatureVerified})
	default:
		return nil, reject(a, ErrIdentityMismatch, "party %x", party)
	}
	if st.allSigned() && st.allMilestonesComplete() {
		st.Status = StatusExecuted
		st.ExecutionDate = c.Now
		events = append(events, Event{
			Name:   EventAgreementAutoExecuted,
			Fields: []Field{uintField("TIMESTAMP", c.Now)},
		})
	}
	return events, nil
}

func onExecuteAgreement(st *State, c Call) ([]Event, error) {
	const a = ActionExecuteAgreement
	if err := requireRole(st, a, c.Sender, RoleAny); err != nil {
		return nil, err
	}
	if err := requireStatus(st, a, StatusPending); err != nil {
		return nil, err
	}
	if !st.allSigned() {
		return nil, reject(a, ErrPrecondition, "buyer_signed=%t seller_signed=%t", st.BuyerSigned, st.SellerSigned)
	}
	if !st.allMilestonesComplete() {
		return nil, reject(a, ErrPrecondition, "%d of %d milestones complete", st.CurrentMilestone, st.MilestoneCount())
	}
	st.Status = StatusExecuted
	st.ExecutionDate = c.Now
	return []Event{{
		Name:   EventAgreementExecuted,
		Fields: []Field{uintField("TIMESTAMP", c.Now)},
	}}, nil
}

func onCancelAgreement(st *State, c Call) ([]Event, error) {
	const a = ActionCancelAgreement
	if err := requireRole(st, a, c.Sender, RoleAny); err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, reject(a, ErrState, "status is %s", st.Status)
	}
	st.Status = StatusCancelled
	return []Event{{
		Name: EventAgreementCancelled,
		Fields: []Field{
			addressField("BY", c.Sender),
			uintField("TIMESTAMP", c.Now),
		},
	}}, nil
}
