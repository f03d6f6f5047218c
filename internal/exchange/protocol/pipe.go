package protocol

import "strings"

// Delimiter separates positional fields in the gateway's legacy
// request and response format.
const Delimiter = "|"

// Transaction codes accepted by the order-entry operation.
const (
	TransNew    = "NEW"
	TransModify = "MOD"
	TransCancel = "CXL"
)

// OrderEntryParams holds every value that feeds the order-entry
// positional parameter string. Optional numeric fields are carried as
// strings so that an absent value encodes as an empty slot rather
// than a zero.
type OrderEntryParams struct {
	TransCode   string
	RefNo       string
	OrderNumber string // gateway order number, only set for modify/cancel
	MemberID    string
	ClientCode  string
	SchemeCode  string
	BuySell     string
	BuySellType string
	DPTxnMode   string
	Amount      string
	Units       string
	EUIN        string
	EUINFlag    bool

	SessionToken string
}

// Encode produces the pipe-joined positional parameter string for the
// order-entry operation. The gateway reads slots by position, so every
// slot is always present; absent values are empty strings. Pure
// function: same input, byte-identical output.
func (p OrderEntryParams) Encode() string {
	euinFlag := "N"
	if p.EUINFlag {
		euinFlag = "Y"
	}

	fields := []string{
		p.TransCode,
		p.RefNo,
		p.OrderNumber,
		p.MemberID,
		p.ClientCode,
		p.SchemeCode,
		p.BuySell,
		p.BuySellType,
		p.DPTxnMode,
		p.Amount,
		p.Units,
		"", "", "", "", "", "",
		p.EUIN,
		euinFlag,
		"", "", "",
		p.SessionToken,
		"", "", "",
	}

	return strings.Join(fields, Delimiter)
}

// PasswordParams holds the positional fields of the getPassword
// (session token) operation.
type PasswordParams struct {
	UserID   string
	MemberID string
	Password string
	PassKey  string
}

// Encode produces the pipe-joined parameter string for getPassword.
func (p PasswordParams) Encode() string {
	return strings.Join([]string{p.UserID, p.MemberID, p.Password, p.PassKey}, Delimiter)
}
