package agreement

// Milestone is one ordered checklist item of the agreement.
type Milestone struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	// CompletedAt is the ledger timestamp of completion, zero while pending.
	CompletedAt uint64 `json:"completed_at,omitempty"`
}

// State is the full persistent record of one agreement instance.
type State struct {
	Created          bool        `json:"-"`
	Admin            Address     `json:"admin"`
	Buyer            Address     `json:"buyer"`
	Seller           Address     `json:"seller"`
	Amount           uint64      `json:"amount"`
	DocumentHash     []byte      `json:"document_hash,omitempty"`
	Status           Status      `json:"status"`
	ExecutionDate    uint64      `json:"execution_date,omitempty"`
	BuyerSigned      bool        `json:"buyer_signed"`
	SellerSigned     bool        `json:"seller_signed"`
	BuyerSignedAt    uint64      `json:"buyer_signed_at,omitempty"`
	SellerSignedAt   uint64      `json:"seller_signed_at,omitempty"`
	CurrentMilestone uint64      `json:"current_milestone"`
	Milestones       []Milestone `json:"milestones"`
}

// MilestoneCount is the number of milestones ever added.
func (s *State) MilestoneCount() uint64 { return uint64(len(s.Milestones)) }

// Clone returns a deep copy so a call can be applied without touching s.
func (s *State) Clone() State {
	c := *s
	if s.DocumentHash != nil {
		c.DocumentHash = append([]byte(nil), s.DocumentHash...)
	}
	if s.Milestones != nil {
		c.Milestones = append([]Milestone(nil), s.Milestones...)
	}
	return c
}

// Role is a set of agreement roles held by an identity.
type Role uint8

const (
	RoleAdmin Role = 1 << iota
	RoleBuyer
	RoleSeller

	RoleAny = RoleAdmin | RoleBuyer | RoleSeller
)

// RolesOf returns the roles addr holds. Unset parties never match.
func (s *State) RolesOf(addr Address) Role {
	var r Role
	if addr.IsZero() {
		return r
	}
	if addr == s.Admin {
		r |= RoleAdmin
	}
	if addr == s.Buyer {
		r |= RoleBuyer
	}
	if addr == s.Seller {
		r |= RoleSeller
	}
	return r
}

func (s *State) allSigned() bool { return s.BuyerSigned && s.SellerSigned }

func (s *State) allMilestonesComplete() bool {
	return s.CurrentMilestone == s.MilestoneCount()
}
