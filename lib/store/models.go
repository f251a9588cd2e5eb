package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankAccount is a bank account registered by a user.
type BankAccount struct {
	BankAccountNumber string    `json:"bankAccountNumber" bson:"bankAccountNumber"`
	BankAccountName   string    `json:"bankAccountName" bson:"bankAccountName"`
	BankCode          int       `json:"bankCode" bson:"bankCode"`
	BankName          string    `json:"bankName" bson:"bankName"`
	CreatedAt         time.Time `json:"createdAt" bson:"createdAt"`
}

// UserAccount is the identity and financial record of a sender or receiver. AvailableBalance only moves through
// credits; AppliedCredits holds the keys of the credits already added to it.
type UserAccount struct {
	ID                    string          `json:"id" bson:"_id,omitempty"`
	IdrxID                string          `json:"idrxId" bson:"idrxId"`
	Email                 string          `json:"email" bson:"email"`
	Fullname              string          `json:"fullname" bson:"fullname"`
	WalletAddress         string          `json:"walletAddress,omitempty" bson:"walletAddress,omitempty"`
	DepositWalletAddress  string          `json:"depositWalletAddress,omitempty" bson:"depositWalletAddress,omitempty"`
	BankID                string          `json:"bankId,omitempty" bson:"bankId,omitempty"`
	BankAccountNumber     string          `json:"bankAccountNumber,omitempty" bson:"bankAccountNumber,omitempty"`
	BankAccountName       string          `json:"bankAccountName,omitempty" bson:"bankAccountName,omitempty"`
	BankCode              int             `json:"bankCode,omitempty" bson:"bankCode,omitempty"`
	BankName              string          `json:"bankName,omitempty" bson:"bankName,omitempty"`
	HashBankAccountNumber string          `json:"-" bson:"hashBankAccountNumber,omitempty"`
	AvailableBalance      decimal.Decimal `json:"availableBalance" bson:"availableBalance"`
	RegisteredBanks       []BankAccount   `json:"listOfRegisteredBankAccount" bson:"ListOfRegisteredBankAccount"`
	AppliedCredits        []string        `json:"-" bson:"appliedCredits,omitempty"`
	CreatedAt             time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// GroupReceiver is the denormalised copy of a receiver inside a group.
type GroupReceiver struct {
	ID                   string          `json:"id" bson:"_id,omitempty"`
	Email                string          `json:"email" bson:"email"`
	Fullname             string          `json:"fullname" bson:"fullname"`
	OriginCurrency       string          `json:"originCurrency" bson:"originCurrency"`
	TokenIcon            string          `json:"tokenIcon" bson:"tokenIcon"`
	WalletAddress        string          `json:"walletAddress" bson:"walletAddress"`
	DepositWalletAddress string          `json:"depositWalletAddress" bson:"depositWalletAddress"`
	Amount               decimal.Decimal `json:"amount" bson:"amount"`
	AvailableBalance     decimal.Decimal `json:"availableBalance" bson:"availableBalance"`
}

// GroupOfUser is a payee list owned by one sender. GroupID is unique per sender.
type GroupOfUser struct {
	ID              string          `json:"id" bson:"_id,omitempty"`
	GroupID         string          `json:"groupId" bson:"groupId"`
	EscrowID        string          `json:"escrowId,omitempty" bson:"escrowId,omitempty"`
	NameOfGroup     string          `json:"nameOfGroup" bson:"nameOfGroup"`
	SenderID        string          `json:"senderId" bson:"senderId"`
	SenderName      string          `json:"senderName" bson:"senderName"`
	Receivers       []GroupReceiver `json:"receivers" bson:"Receivers"`
	TotalRecipients int             `json:"totalRecipients" bson:"totalRecipients"`
	AppliedCredits  []string        `json:"-" bson:"appliedCredits,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// PaidReceiver is the per receiver breakdown of a payroll.
type PaidReceiver struct {
	Email    string          `json:"email" bson:"email"`
	Fullname string          `json:"fullname" bson:"fullname"`
	Amount   decimal.Decimal `json:"amount" bson:"amount"`
}

// TransactionHistory is the immutable record of one approved payroll.
type TransactionHistory struct {
	TxID           string          `json:"txId" bson:"txId"`
	TxHash         string          `json:"txHash" bson:"txHash"`
	BlockNumber    uint64          `json:"blockNumber" bson:"blockNumber"`
	BlockHash      string          `json:"blockHash" bson:"blockHash"`
	From           string          `json:"from" bson:"from"`
	To             string          `json:"to" bson:"to"`
	GasUsed        uint64          `json:"gasUsed" bson:"gasUsed"`
	GasPrice       string          `json:"gasPrice" bson:"gasPrice"`
	SenderID       string          `json:"senderId" bson:"senderId"`
	SenderName     string          `json:"senderName" bson:"senderName"`
	GroupID        string          `json:"groupId" bson:"groupId"`
	GroupName      string          `json:"groupName" bson:"groupName"`
	OriginCurrency string          `json:"originCurrency" bson:"originCurrency"`
	Receivers      []PaidReceiver  `json:"receivers" bson:"Receivers"`
	TotalAmount    decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	TotalReceiver  int             `json:"totalReceiver" bson:"totalReceiver"`
	Timestamp      time.Time       `json:"timestamp" bson:"timestamp"`
}

// Withdraw choices.
const (
	ChoiceCrypto = "crypto"
	ChoiceFiat   = "fiat"
)

// WithdrawHistory is the immutable record of one approved withdrawal. The crypto branch fills NetworkChainID and
// WalletAddress, the fiat branch fills the deposit wallet and bank fields.
type WithdrawHistory struct {
	WithdrawID           string          `json:"withdrawId" bson:"withdrawId"`
	ReceiverID           string          `json:"receiverId" bson:"receiverId"`
	Amount               decimal.Decimal `json:"amount" bson:"amount"`
	AmountBaseUnits      string          `json:"amountBaseUnits" bson:"amountBaseUnits"`
	Choice               string          `json:"choice" bson:"choice"`
	OriginCurrency       string          `json:"originCurrency" bson:"originCurrency"`
	TargetCurrency       string          `json:"targetCurrency" bson:"targetCurrency"`
	NetworkChainID       string          `json:"networkChainId,omitempty" bson:"networkChainId,omitempty"`
	WalletAddress        string          `json:"walletAddress,omitempty" bson:"walletAddress,omitempty"`
	DepositWalletAddress string          `json:"depositWalletAddress,omitempty" bson:"depositWalletAddress,omitempty"`
	BankID               string          `json:"bankId,omitempty" bson:"bankId,omitempty"`
	BankName             string          `json:"bankName,omitempty" bson:"bankName,omitempty"`
	BankAccountName      string          `json:"bankAccountName,omitempty" bson:"bankAccountName,omitempty"`
	BankAccountNumber    string          `json:"bankAccountNumber,omitempty" bson:"bankAccountNumber,omitempty"`
	TxHash               string          `json:"txHash" bson:"txHash"`
	BlockNumber          uint64          `json:"blockNumber" bson:"blockNumber"`
	CreatedAt            time.Time       `json:"createdAt" bson:"createdAt"`
}

// Credit adds Amount to a receiver's balance in both the user account (by Email) and the group (by GroupID and
// Email). Key identifies the credit so it is applied at most once per document.
type Credit struct {
	Key      string
	Email    string
	GroupID  string
	SenderID string
	Amount   decimal.Decimal
}

// Outcome of a credit on one document.
type Outcome int

// Credit outcomes.
const (
	Applied Outcome = iota
	AlreadyApplied
	Missing
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyApplied:
		return "already_applied"
	}

	return "missing"
}

// CreditResult reports the outcome of a credit on the user account and on the group.
type CreditResult struct {
	User  Outcome
	Group Outcome
}

// Intake event statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusDropped = "dropped"
	StatusFailed  = "failed"
)

// IntakeEvent is a raw contract log persisted before it is processed.
type IntakeEvent struct {
	Key         string    `json:"key" bson:"_id"`
	Listener    string    `json:"listener" bson:"listener"`
	Name        string    `json:"name" bson:"name"`
	BlockNumber uint64    `json:"blockNumber" bson:"blockNumber"`
	BlockHash   string    `json:"blockHash" bson:"blockHash"`
	TxHash      string    `json:"txHash" bson:"txHash"`
	LogIndex    uint      `json:"logIndex" bson:"logIndex"`
	Topics      []string  `json:"topics" bson:"topics"`
	Data        []byte    `json:"data" bson:"data"`
	Removed     bool      `json:"removed" bson:"removed"`
	Status      string    `json:"status" bson:"status"`
	Attempts    int       `json:"attempts" bson:"attempts"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EventFilter selects intake events. Empty fields match everything.
type EventFilter struct {
	Listener string
	Status   string
	Limit    int
}

// Cursor contains the last block whose logs are all in the intake log, plus the ring of recent block hashes.
type Cursor struct {
	Listener string    `json:"listener" bson:"_id"`
	Block    uint64    `json:"block" bson:"block"`
	Bh       []string  `json:"bh" bson:"bh"`
	Bhi      int       `json:"bhi" bson:"bhi"`
	Updated  time.Time `json:"updated" bson:"updated"`
}
