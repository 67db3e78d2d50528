package agreement

import "fmt"

// Action selects the handler for a call. args[0] carries its literal tag.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionCreate
	ActionInitialize
	ActionAddMilestone
	ActionCompleteMilestone
	ActionVerifySignature
	ActionExecuteAgreement
	ActionCancelAgreement
)

var actionTags = map[Action]string{
	ActionCreate:            "create",
	ActionInitialize:        "initialize",
	ActionAddMilestone:      "add_milestone",
	ActionCompleteMilestone: "complete_milestone",
	ActionVerifySignature:   "verify_signature",
	ActionExecuteAgreement:  "execute_agreement",
	ActionCancelAgreement:   "cancel_agreement",
}

// argCounts include the action tag itself.
var argCounts = map[Action]int{
	ActionInitialize:        5,
	ActionAddMilestone:      3,
	ActionCompleteMilestone: 2,
	ActionVerifySignature:   2,
	ActionExecuteAgreement:  1,
	ActionCancelAgreement:   1,
}

func (a Action) String() string {
	if tag, ok := actionTags[a]; ok {
		return tag
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction maps an action literal to its Action. Instance creation has no
// literal: it is selected by Call.Create.
func ParseAction(tag []byte) (Action, error) {
	switch string(tag) {
	case "initialize":
		return ActionInitialize, nil
	case "add_milestone":
		return ActionAddMilestone, nil
	case "complete_milestone":
		return ActionCompleteMilestone, nil
	case "verify_signature":
		return ActionVerifySignature, nil
	case "execute_agreement":
		return ActionExecuteAgreement, nil
	case "cancel_agreement":
		return ActionCancelAgreement, nil
	}
	return ActionUnknown, reject(ActionUnknown, ErrUnknownAction, "tag %q", tag)
}

// Actions lists the literal-tagged actions in router order.
func Actions() []Action {
	return []Action{
		ActionInitialize,
		ActionAddMilestone,
		ActionCompleteMilestone,
		ActionVerifySignature,
		ActionExecuteAgreement,
		ActionCancelAgreement,
	}
}

// ArgCount is the exact number of call arguments, tag included, an action expects.
func (a Action) ArgCount() int { return argCounts[a] }
