package agreement_test

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"closeline/internal/agreement"
)

var (
	admin    = agreement.Address{0xA0}
	buyer    = agreement.Address{0xB0}
	seller   = agreement.Address{0x5E}
	stranger = agreement.Address{0xFF}
	docHash  = sha256.Sum256([]byte("closing agreement v1"))
)

// tester is satisfied by both *testing.T and *rapid.T.
type tester interface {
	Helper()
	Errorf(format string, args ...any)
	FailNow()
}

type harness struct {
	t     tester
	state agreement.State
	now   uint64
}

func newHarness(t tester) *harness {
	t.Helper()
	h := &harness{t: t, now: 1_700_000_000}
	events, err := agreement.Apply(&h.state, agreement.Call{Sender: admin, Now: h.now, Create: true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	return h
}

func (h *harness) call(sender agreement.Address, args [][]byte) ([]agreement.Event, error) {
	h.now++
	return agreement.Apply(&h.state, agreement.Call{Sender: sender, Now: h.now, Args: args})
}

func (h *harness) must(sender agreement.Address, args [][]byte) []agreement.Event {
	h.t.Helper()
	events, err := h.call(sender, args)
	require.NoError(h.t, err)
	return events
}

func (h *harness) rejects(kind error, sender agreement.Address, args [][]byte) {
	h.t.Helper()
	before := h.state.Clone()
	events, err := h.call(sender, args)
	require.ErrorIs(h.t, err, kind)
	require.Nil(h.t, events)
	require.Equal(h.t, before, h.state, "rejected call must not change state")
}

func (h *harness) initialized() *harness {
	h.must(admin, agreement.InitializeArgs(buyer, seller, 1000, docHash[:]))
	return h
}

func TestCreation(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.state.Created)
	require.Equal(t, admin, h.state.Admin)
	require.Equal(t, agreement.StatusDraft, h.state.Status)
	require.Zero(t, h.state.MilestoneCount())
	require.Zero(t, h.state.CurrentMilestone)
	require.False(t, h.state.BuyerSigned)
	require.False(t, h.state.SellerSigned)

	_, err := agreement.Apply(&h.state, agreement.Call{Sender: stranger, Create: true})
	require.ErrorIs(t, err, agreement.ErrState)
}

func TestCreationEventLogs(t *testing.T) {
	var st agreement.State
	events, err := agreement.Apply(&st, agreement.Call{Sender: admin, Create: true})
	require.NoError(t, err)
	logs := events[0].Logs()
	require.Len(t, logs, 2)
	require.Equal(t, "INIT:admin=", string(logs[0]))
	require.Equal(t, admin[:], logs[1])
}

func TestInitialize(t *testing.T) {
	h := newHarness(t)
	events := h.must(admin, agreement.InitializeArgs(buyer, seller, 1000, docHash[:]))
	require.Equal(t, agreement.StatusPending, h.state.Status)
	require.Equal(t, buyer, h.state.Buyer)
	require.Equal(t, seller, h.state.Seller)
	require.Equal(t, uint64(1000), h.state.Amount)
	require.Equal(t, docHash[:], h.state.DocumentHash)

	require.Len(t, events, 1)
	logs := events[0].Logs()
	require.Equal(t, "AGREEMENT_INITIALIZED", string(logs[0]))
	require.Equal(t, append([]byte("BUYER:"), buyer[:]...), logs[1])
	require.Equal(t, append([]byte("SELLER:"), seller[:]...), logs[2])
}

func TestInitializeRejections(t *testing.T) {
	h := newHarness(t)
	args := agreement.InitializeArgs(buyer, seller, 1000, docHash[:])

	h.rejects(agreement.ErrArgumentCount, admin, args[:4])
	h.rejects(agreement.ErrUnauthorized, buyer, args)
	h.rejects(agreement.ErrInvalidArgument, admin, agreement.InitializeArgs(agreement.ZeroAddress, seller, 1, docHash[:]))
	h.rejects(agreement.ErrInvalidArgument, admin, agreement.InitializeArgs(buyer, seller, 1, []byte("short")))
	h.rejects(agreement.ErrInvalidArgument, admin, agreement.InitializeArgs(buyer, buyer, 1, docHash[:]))
	long := [][]byte{args[0], args[1], args[2], bytes.Repeat([]byte{1}, 9), args[4]}
	h.rejects(agreement.ErrInvalidArgument, admin, long)

	h.must(admin, args)
	h.rejects(agreement.ErrState, admin, args)
}

func TestAddMilestone(t *testing.T) {
	h := newHarness(t).initialized()
	events := h.must(buyer, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.must(seller, agreement.AddMilestoneArgs("Closing", "Final closing"))

	require.Equal(t, uint64(2), h.state.MilestoneCount())
	g := h.state.Globals()
	m, err := agreement.DecodeMilestone(g[agreement.MilestoneKey(0)].Bytes)
	require.NoError(t, err)
	require.Equal(t, "Inspection", m.Title)
	require.False(t, m.Completed)
	require.Equal(t, "Inspection|Home inspection|0", string(g[agreement.MilestoneKey(0)].Bytes))

	logs := events[0].Logs()
	require.Equal(t, "MILESTONE_ADDED", string(logs[0]))
	require.Equal(t, append([]byte("INDEX:"), agreement.Itob(0)...), logs[1])
	require.Equal(t, "TITLE:Inspection", string(logs[2]))
}

func TestAddMilestoneInDraftByAdminOnly(t *testing.T) {
	h := newHarness(t)
	h.must(admin, agreement.AddMilestoneArgs("Escrow", "Open escrow"))
	// parties are unset before initialize
	h.rejects(agreement.ErrUnauthorized, buyer, agreement.AddMilestoneArgs("x", "y"))
	h.rejects(agreement.ErrUnauthorized, agreement.ZeroAddress, agreement.AddMilestoneArgs("x", "y"))
	h.rejects(agreement.ErrInvalidArgument, admin, agreement.AddMilestoneArgs("a|b", "y"))
}

func TestCompleteMilestoneInOrder(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))

	h.rejects(agreement.ErrSequence, buyer, agreement.CompleteMilestoneArgs(1))
	h.rejects(agreement.ErrSequence, buyer, agreement.CompleteMilestoneArgs(7))

	events := h.must(buyer, agreement.CompleteMilestoneArgs(0))
	require.Equal(t, uint64(1), h.state.CurrentMilestone)
	rec := h.state.Globals()[agreement.MilestoneKey(0)].Bytes
	require.Equal(t, byte('1'), rec[len(rec)-1])
	require.Equal(t, h.now, h.state.Milestones[0].CompletedAt)
	require.Equal(t, agreement.Itob(h.now), h.state.Globals()[agreement.MilestoneCompletedKey(0)].Bytes)

	logs := events[0].Logs()
	require.Equal(t, "MILESTONE_COMPLETED", string(logs[0]))
	require.Equal(t, append([]byte("TIMESTAMP:"), agreement.Itob(h.now)...), logs[2])

	h.rejects(agreement.ErrSequence, buyer, agreement.CompleteMilestoneArgs(0))
	h.rejects(agreement.ErrUnauthorized, stranger, agreement.CompleteMilestoneArgs(1))
}

func TestCompleteMilestoneShortIndexEncoding(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.must(admin, [][]byte{[]byte("complete_milestone"), {}})
	require.Equal(t, uint64(1), h.state.CurrentMilestone)
}

func TestCompleteMilestoneRequiresPending(t *testing.T) {
	h := newHarness(t)
	h.must(admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.rejects(agreement.ErrState, admin, agreement.CompleteMilestoneArgs(0))
}

func TestAutoExecutionOnSecondSignature(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))
	h.must(buyer, agreement.CompleteMilestoneArgs(0))
	h.must(seller, agreement.CompleteMilestoneArgs(1))

	events := h.must(buyer, agreement.VerifySignatureArgs(buyer))
	require.Len(t, events, 1)
	require.Equal(t, agreement.EventBuyerSignatureVerified, events[0].Name)
	require.Equal(t, agreement.StatusPending, h.state.Status)

	events = h.must(seller, agreement.VerifySignatureArgs(seller))
	require.Len(t, events, 2)
	require.Equal(t, agreement.EventSellerSignatureVerified, events[0].Name)
	require.Equal(t, agreement.EventAgreementAutoExecuted, events[1].Name)
	require.Equal(t, agreement.StatusExecuted, h.state.Status)
	require.Equal(t, h.now, h.state.ExecutionDate)

	h.rejects(agreement.ErrState, seller, agreement.VerifySignatureArgs(seller))
	require.Equal(t, agreement.StatusExecuted, h.state.Status)
}

func TestCompletingLastMilestoneDoesNotAutoExecute(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Inspection", "Home inspection"))
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))
	h.must(buyer, agreement.CompleteMilestoneArgs(0))
	h.must(buyer, agreement.VerifySignatureArgs(buyer))
	h.must(seller, agreement.VerifySignatureArgs(seller))
	require.Equal(t, agreement.StatusPending, h.state.Status)

	events := h.must(seller, agreement.CompleteMilestoneArgs(1))
	require.Len(t, events, 1)
	require.Equal(t, agreement.StatusPending, h.state.Status)
	require.Zero(t, h.state.ExecutionDate)

	h.must(buyer, agreement.VerifySignatureArgs(buyer))
	require.Equal(t, agreement.StatusExecuted, h.state.Status)
}

func TestExecuteAgreementAfterLateMilestone(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))

	h.rejects(agreement.ErrPrecondition, admin, agreement.ExecuteAgreementArgs())
	h.must(buyer, agreement.VerifySignatureArgs(buyer))
	h.must(buyer, agreement.VerifySignatureArgs(seller))
	h.rejects(agreement.ErrPrecondition, admin, agreement.ExecuteAgreementArgs())

	h.must(admin, agreement.CompleteMilestoneArgs(0))
	events := h.must(seller, agreement.ExecuteAgreementArgs())
	require.Equal(t, agreement.EventAgreementExecuted, events[0].Name)
	require.Equal(t, agreement.StatusExecuted, h.state.Status)
	require.Equal(t, h.now, h.state.ExecutionDate)

	h.rejects(agreement.ErrState, seller, agreement.ExecuteAgreementArgs())
}

func TestVerifySignatureUnknownParty(t *testing.T) {
	h := newHarness(t).initialized()
	h.rejects(agreement.ErrIdentityMismatch, buyer, agreement.VerifySignatureArgs(stranger))
	h.rejects(agreement.ErrIdentityMismatch, buyer, [][]byte{[]byte("verify_signature"), []byte("nobody")})
	h.rejects(agreement.ErrUnauthorized, stranger, agreement.VerifySignatureArgs(buyer))
}

func TestRepeatSignatureIsIdempotentForFlag(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))
	h.must(buyer, agreement.VerifySignatureArgs(buyer))
	h.must(buyer, agreement.VerifySignatureArgs(buyer))
	require.True(t, h.state.BuyerSigned)
	require.False(t, h.state.SellerSigned)
	require.Equal(t, h.now, h.state.BuyerSignedAt)
	require.Equal(t, agreement.StatusPending, h.state.Status)
}

func TestCancel(t *testing.T) {
	h := newHarness(t).initialized()
	h.must(admin, agreement.AddMilestoneArgs("Closing", "Final closing"))
	events := h.must(seller, agreement.CancelAgreementArgs())
	require.Equal(t, agreement.StatusCancelled, h.state.Status)
	logs := events[0].Logs()
	require.Equal(t, "AGREEMENT_CANCELLED", string(logs[0]))
	require.Equal(t, append([]byte("BY:"), seller[:]...), logs[1])

	h.rejects(agreement.ErrState, admin, agreement.AddMilestoneArgs("x", "y"))
	h.rejects(agreement.ErrState, admin, agreement.CompleteMilestoneArgs(0))
	h.rejects(agreement.ErrState, admin, agreement.VerifySignatureArgs(buyer))
	h.rejects(agreement.ErrState, admin, agreement.ExecuteAgreementArgs())
	h.rejects(agreement.ErrState, admin, agreement.CancelAgreementArgs())
	h.rejects(agreement.ErrState, admin, agreement.InitializeArgs(buyer, seller, 1, docHash[:]))
}

func TestCancelFromDraft(t *testing.T) {
	h := newHarness(t)
	h.rejects(agreement.ErrUnauthorized, stranger, agreement.CancelAgreementArgs())
	h.must(admin, agreement.CancelAgreementArgs())
	require.Equal(t, agreement.StatusCancelled, h.state.Status)
}

func TestRouterRejectsUnknownTags(t *testing.T) {
	h := newHarness(t)
	h.rejects(agreement.ErrUnknownAction, admin, [][]byte{[]byte("refund")})
	h.rejects(agreement.ErrUnknownAction, admin, nil)
	h.rejects(agreement.ErrArgumentCount, admin, [][]byte{[]byte("cancel_agreement"), []byte("extra")})

	var fresh agreement.State
	_, err := agreement.Apply(&fresh, agreement.Call{Sender: admin, Args: agreement.CancelAgreementArgs()})
	require.ErrorIs(t, err, agreement.ErrState)
}

func TestRejectErrorCarriesAction(t *testing.T) {
	h := newHarness(t)
	_, err := h.call(buyer, agreement.InitializeArgs(buyer, seller, 1, docHash[:]))
	var re *agreement.RejectError
	require.ErrorAs(t, err, &re)
	require.Equal(t, agreement.ActionInitialize, re.Action)
	require.Equal(t, agreement.ErrUnauthorized, agreement.Kind(err))
	require.Contains(t, err.Error(), "initialize rejected")
}
