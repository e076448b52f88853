package domain

import "github.com/milkmarket/milkd"

// WalletMeta is the decrypted content of the most recent wallet-metadata
// record. Latest createdAt wins outright; metadata is never field-merged.
type WalletMeta struct {
	Mints      []string `json:"mints"`
	PrivateKey string   `json:"privkey,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
}

// ProofBundle is one decrypted kind-7375 record: a set of proofs issued by
// a single mint, carried by the record identified by EventID.
type ProofBundle struct {
	EventID string             `json:"eventId"`
	Mint    string             `json:"mint"`
	Proofs  []milkmarket.Proof `json:"proofs"`
	// DeletedIDs lists bundle records this one supersedes (the "del" field
	// of the bundle payload).
	DeletedIDs []string `json:"del,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
}

// HistoryEntry is one decrypted kind-7376 spending-history record.
type HistoryEntry struct {
	EventID   string   `json:"eventId"`
	Direction string   `json:"direction"` // in | out
	Amount    uint64   `json:"amount"`
	Created   []string `json:"created"`   // bundle record ids created (change)
	Destroyed []string `json:"destroyed"` // bundle record ids consumed
	CreatedAt int64    `json:"createdAt"`
}

// MintInfo is a mint's self-description, shown alongside its balance.
type MintInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	MOTD    string `json:"motd,omitempty"`
}

// MeltQuote is a mint's offer for paying a lightning invoice out of the
// wallet's proofs.
type MeltQuote struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"feeReserve"`
	State      string `json:"state,omitempty"`
	Expiry     int64  `json:"expiry,omitempty"`
}

// WalletState is the reconciled view of the wallet: the canonical unspent
// proof set partitioned by mint.
type WalletState struct {
	Mints   []string                      `json:"mints"`
	ByMint  map[string][]milkmarket.Proof `json:"byMint"`
	Balance uint64                        `json:"balance"`
	History []HistoryEntry                `json:"history"`
	// MintInfo holds the self-description of every mint that answered
	// this cycle.
	MintInfo map[string]MintInfo `json:"mintInfo,omitempty"`
	// StaleMints lists mints whose spent-check failed this cycle; their
	// proofs are retained but the balance may overstate until the next
	// successful check.
	StaleMints []string `json:"staleMints,omitempty"`
	// SpentRecordIDs are fully consumed bundle records scheduled for
	// relay-side deletion.
	SpentRecordIDs []string `json:"-"`
}

// Proofs returns the unspent set across all mints.
func (w *WalletState) Proofs() []milkmarket.Proof {
	var out []milkmarket.Proof
	for _, mint := range w.Mints {
		out = append(out, w.ByMint[mint]...)
	}
	return out
}
