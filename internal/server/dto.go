package server

import (
	"encoding/hex"
	"fmt"
	"strings"

	"closeline/internal/agreement"
	"closeline/internal/domain"
	"closeline/internal/engine"
)

// Request payloads

type CallRequest struct {
	Args [][]byte `json:"args" doc:"Raw call arguments, base64 encoded; args[0] is the action tag"`
}

type InitializeRequest struct {
	Buyer        string `json:"buyer" doc:"Buyer address"`
	Seller       string `json:"seller" doc:"Seller address"`
	Amount       uint64 `json:"amount"`
	DocumentHash string `json:"document_hash" doc:"Hex SHA-256 of the agreement document" minLength:"64" maxLength:"66"`
}

type MilestoneRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type SignatureRequest struct {
	Party string `json:"party" doc:"Address of the signing party; must be the buyer or the seller"`
}

type DevLoginRequest struct {
	Address string `json:"address" doc:"Address to authenticate as"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string `json:"token"`
	Address   string `json:"address"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type MilestoneResponse struct {
	Index       uint64 `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CompletedAt uint64 `json:"completed_at,omitempty"`
}

type AgreementResponse struct {
	Admin            string              `json:"admin"`
	Buyer            string              `json:"buyer,omitempty"`
	Seller           string              `json:"seller,omitempty"`
	Amount           uint64              `json:"amount"`
	DocumentHash     string              `json:"document_hash,omitempty"`
	Status           string              `json:"status" enum:"DRAFT,PENDING,EXECUTED,CANCELLED"`
	ExecutionDate    uint64              `json:"execution_date,omitempty"`
	BuyerSigned      bool                `json:"buyer_signed"`
	SellerSigned     bool                `json:"seller_signed"`
	BuyerSignedAt    uint64              `json:"buyer_signed_at,omitempty"`
	SellerSignedAt   uint64              `json:"seller_signed_at,omitempty"`
	MilestoneCount   uint64              `json:"milestone_count"`
	CurrentMilestone uint64              `json:"current_milestone"`
	Milestones       []MilestoneResponse `json:"milestones"`
}

type AppResponse struct {
	ID        uint64            `json:"id"`
	Creator   string            `json:"creator"`
	CreateTxn string            `json:"create_txn"`
	CreatedAt string            `json:"created_at" format:"date-time"`
	Agreement AgreementResponse `json:"agreement"`
}

type GlobalResponse struct {
	Key   string `json:"key" doc:"Printable key; binary milestone indices are shown in decimal"`
	Raw   []byte `json:"raw_key"`
	Type  string `json:"type" enum:"bytes,uint"`
	Bytes []byte `json:"bytes,omitempty"`
	Uint  uint64 `json:"uint,omitempty"`
}

type ReceiptResponse struct {
	TxnID     string         `json:"txn_id"`
	AppID     uint64         `json:"app_id"`
	Action    string         `json:"action"`
	Timestamp uint64         `json:"timestamp"`
	Events    []domain.Event `json:"events"`
	Logs      [][]byte       `json:"logs"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func agreementResponse(st agreement.State) AgreementResponse {
	resp := AgreementResponse{
		Admin:            st.Admin.String(),
		Amount:           st.Amount,
		Status:           st.Status.String(),
		ExecutionDate:    st.ExecutionDate,
		BuyerSigned:      st.BuyerSigned,
		SellerSigned:     st.SellerSigned,
		BuyerSignedAt:    st.BuyerSignedAt,
		SellerSignedAt:   st.SellerSignedAt,
		MilestoneCount:   st.MilestoneCount(),
		CurrentMilestone: st.CurrentMilestone,
		Milestones:       milestoneResponses(st.Milestones),
	}
	if !st.Buyer.IsZero() {
		resp.Buyer = st.Buyer.String()
		resp.Seller = st.Seller.String()
		resp.DocumentHash = hex.EncodeToString(st.DocumentHash)
	}
	return resp
}

func milestoneResponses(ms []agreement.Milestone) []MilestoneResponse {
	out := make([]MilestoneResponse, 0, len(ms))
	for i, m := range ms {
		out = append(out, MilestoneResponse{
			Index:       uint64(i),
			Title:       m.Title,
			Description: m.Description,
			Completed:   m.Completed,
			CompletedAt: m.CompletedAt,
		})
	}
	return out
}

func appResponse(app domain.App, st agreement.State) AppResponse {
	return AppResponse{
		ID:        app.ID,
		Creator:   app.Creator.String(),
		CreateTxn: app.CreateTxn,
		CreatedAt: app.CreatedAt,
		Agreement: agreementResponse(st),
	}
}

func globalResponses(g agreement.Globals) []GlobalResponse {
	out := make([]GlobalResponse, 0, len(g))
	for _, k := range g.Keys() {
		v := g[k]
		item := GlobalResponse{Key: displayKey(k), Raw: []byte(k), Type: "bytes", Bytes: v.Bytes}
		if v.Type == agreement.ValueUint {
			item.Type = "uint"
			item.Bytes = nil
			item.Uint = v.Uint
		}
		out = append(out, item)
	}
	return out
}

// displayKey renders the binary index suffix of milestone keys in decimal.
func displayKey(k string) string {
	for _, prefix := range []string{agreement.KeyMilestoneCompletedPrefix, agreement.KeyMilestonePrefix} {
		if strings.HasPrefix(k, prefix) && len(k) == len(prefix)+8 {
			if i, err := agreement.Btoi([]byte(k[len(prefix):])); err == nil {
				return fmt.Sprintf("%s%d", prefix, i)
			}
		}
	}
	return k
}

func receiptResponse(r engine.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		TxnID:     r.TxnID,
		AppID:     r.AppID,
		Action:    r.Action,
		Timestamp: r.Timestamp,
		Events:    r.Events,
		Logs:      r.Logs,
	}
	if resp.Events == nil {
		resp.Events = []domain.Event{}
	}
	return resp
}
