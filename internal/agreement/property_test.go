package agreement_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"closeline/internal/agreement"
)

var actors = []agreement.Address{admin, buyer, seller, stranger}

func genCall(t *rapid.T, st *agreement.State) [][]byte {
	switch rapid.IntRange(0, 6).Draw(t, "action") {
	case 0:
		return agreement.InitializeArgs(buyer, seller, rapid.Uint64().Draw(t, "amount"), docHash[:])
	case 1:
		return agreement.AddMilestoneArgs(rapid.StringMatching(`[A-Za-z ]{0,12}`).Draw(t, "title"), "desc")
	case 2:
		hi := st.MilestoneCount() + 2
		return agreement.CompleteMilestoneArgs(rapid.Uint64Range(0, hi).Draw(t, "index"))
	case 3:
		party := rapid.SampledFrom(actors).Draw(t, "party")
		return agreement.VerifySignatureArgs(party)
	case 4:
		return agreement.ExecuteAgreementArgs()
	case 5:
		return agreement.CancelAgreementArgs()
	default:
		return [][]byte{[]byte(rapid.StringMatching(`[a-z_]{1,10}`).Draw(t, "tag"))}
	}
}

func checkInvariants(t *rapid.T, prev, cur agreement.State) {
	if cur.CurrentMilestone > cur.MilestoneCount() {
		t.Fatalf("current_milestone %d exceeds milestone_count %d", cur.CurrentMilestone, cur.MilestoneCount())
	}
	for i, m := range cur.Milestones {
		if m.Completed != (uint64(i) < cur.CurrentMilestone) {
			t.Fatalf("milestone %d completed=%t with current_milestone=%d", i, m.Completed, cur.CurrentMilestone)
		}
	}
	if prev.Status != cur.Status && !agreement.CanTransition(prev.Status, cur.Status) {
		t.Fatalf("illegal status transition %s -> %s", prev.Status, cur.Status)
	}
	if prev.BuyerSigned && !cur.BuyerSigned || prev.SellerSigned && !cur.SellerSigned {
		t.Fatalf("signature flag reset")
	}
	if cur.MilestoneCount() < prev.MilestoneCount() {
		t.Fatalf("milestone removed")
	}
}

func TestStateMachineProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var st agreement.State
		now := uint64(1_700_000_000)
		_, err := agreement.Apply(&st, agreement.Call{Sender: admin, Now: now, Create: true})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now++
			sender := rapid.SampledFrom(actors).Draw(t, "sender")
			args := genCall(t, &st)
			prev := st.Clone()
			events, err := agreement.Apply(&st, agreement.Call{Sender: sender, Now: now, Args: args})
			if err != nil {
				if events != nil {
					t.Fatalf("rejected call returned events")
				}
				if !equalState(prev, st) {
					t.Fatalf("rejected call changed state: %v", err)
				}
				checkRejectionKind(t, prev, sender, args, err)
				continue
			}
			if len(events) == 0 {
				t.Fatalf("successful call emitted no events")
			}
			if prev.Status.Terminal() {
				t.Fatalf("call accepted in terminal status %s", prev.Status)
			}
			checkInvariants(t, prev, st)
			if _, err := agreement.DecodeGlobals(st.Globals()); err != nil {
				t.Fatalf("globals do not decode: %v", err)
			}
		}
	})
}

// checkRejectionKind pins the kinds the properties single out.
func checkRejectionKind(t *rapid.T, prev agreement.State, sender agreement.Address, args [][]byte, err error) {
	action, perr := agreement.ParseAction(args[0])
	if perr != nil {
		if !errors.Is(err, agreement.ErrUnknownAction) {
			t.Fatalf("unknown tag rejected with %v", err)
		}
		return
	}
	authorized := prev.RolesOf(sender)&agreement.RoleAny != 0
	if !authorized || prev.Status != agreement.StatusPending {
		return
	}
	switch action {
	case agreement.ActionCompleteMilestone:
		idx, _ := agreement.Btoi(args[1])
		if idx != prev.CurrentMilestone && !errors.Is(err, agreement.ErrSequence) {
			t.Fatalf("out-of-order completion of %d rejected with %v", idx, err)
		}
	case agreement.ActionVerifySignature:
		party, _ := agreement.AddressFromBytes(args[1])
		if party != prev.Buyer && party != prev.Seller && !errors.Is(err, agreement.ErrIdentityMismatch) {
			t.Fatalf("unknown party rejected with %v", err)
		}
	}
}

func equalState(a, b agreement.State) bool {
	ga, gb := a.Globals(), b.Globals()
	if len(ga) != len(gb) {
		return false
	}
	for k, va := range ga {
		vb, ok := gb[k]
		if !ok || va.Type != vb.Type || va.Uint != vb.Uint || string(va.Bytes) != string(vb.Bytes) {
			return false
		}
	}
	return true
}

func TestOutOfOrderCompletionAlwaysFails(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(rt).initialized()
		n := rapid.IntRange(1, 8).Draw(rt, "milestones")
		for i := 0; i < n; i++ {
			h.must(admin, agreement.AddMilestoneArgs("m", "d"))
		}
		done := rapid.IntRange(0, n).Draw(rt, "done")
		for i := 0; i < done; i++ {
			h.must(buyer, agreement.CompleteMilestoneArgs(uint64(i)))
		}
		idx := rapid.Uint64().Filter(func(v uint64) bool { return v != uint64(done) }).Draw(rt, "index")
		_, err := h.call(seller, agreement.CompleteMilestoneArgs(idx))
		require.ErrorIs(rt, err, agreement.ErrSequence)
		require.Equal(rt, uint64(done), h.state.CurrentMilestone)
	})
}
