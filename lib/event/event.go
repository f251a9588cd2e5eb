// Package event decodes the payroll contract logs into typed events. Amounts emitted in base units are converted to
// token units with the configured decimal exponent.
package event

import (
	"bytes"
	_ "embed" // default payroll ABI
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/tarancss/movo/lib/block/types"
)

// Event names emitted by the payroll contract.
const (
	EscrowCreated    = "EscrowCreated"
	PayrollApproved  = "PayrollApproved"
	WithdrawApproved = "WithdrawApproved"
)

// Error codes.
var (
	ErrMalformedPayload = errors.New("malformed event payload")
	ErrUnknownEvent     = errors.New("unknown event")
)

//go:embed payroll.abi.json
var payrollABI []byte

// Event is a decoded contract event.
type Event interface {
	EventName() string
}

// Escrow is the EscrowCreated event. GroupID is only set when the contract emits it.
type Escrow struct {
	EscrowID    string
	Sender      string
	GroupID     string
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
	Receivers   []string
	Amounts     []decimal.Decimal
}

// EventName implements Event.
func (Escrow) EventName() string { return EscrowCreated }

// Receiver is one entry of a payroll, decoded from its JSON string.
type Receiver struct {
	Email     string          `json:"email"`
	Fullname  string          `json:"fullname"`
	Amount    decimal.Decimal `json:"-"`
	BaseUnits string          `json:"-"`
}

// Payroll is the PayrollApproved event.
type Payroll struct {
	TxID           string
	SenderID       string
	SenderName     string
	GroupID        string
	GroupName      string
	TotalAmount    decimal.Decimal
	Receivers      []Receiver
	TotalReceiver  int64
	OriginCurrency string
}

// EventName implements Event.
func (Payroll) EventName() string { return PayrollApproved }

// Withdraw is the WithdrawApproved event.
type Withdraw struct {
	WithdrawID           string
	ReceiverID           string
	Amount               decimal.Decimal
	BaseUnits            string
	Choice               string
	OriginCurrency       string
	TargetCurrency       string
	BankID               string
	DepositWalletAddress string
	BankName             string
	BankAccountName      string
	BankAccountNumber    string
	WalletAddress        string
	NetworkChainID       string
}

// EventName implements Event.
func (Withdraw) EventName() string { return WithdrawApproved }

// Key returns the identity of a log on chain, used to detect redeliveries.
func Key(l types.Log) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(l.TxHash), l.LogIndex)
}

// Decoder decodes logs of one contract ABI.
type Decoder struct {
	abi      abi.ABI
	decimals int32
}

// NewDecoder parses the ABI document in r. When r is nil the embedded payroll ABI is used.
func NewDecoder(r io.Reader, decimals int32) (*Decoder, error) {
	if r == nil {
		r = bytes.NewReader(payrollABI)
	}

	a, err := abi.JSON(r)
	if err != nil {
		return nil, fmt.Errorf("cannot parse contract ABI: %w", err)
	}

	return &Decoder{abi: a, decimals: decimals}, nil
}

// NewDecoderFromFile reads the ABI document at path, or uses the embedded one when path is empty.
func NewDecoderFromFile(path string, decimals int32) (*Decoder, error) {
	if path == "" {
		return NewDecoder(nil, decimals)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open contract ABI %s: %w", path, err)
	}
	defer f.Close()

	return NewDecoder(f, decimals)
}

// Topic returns the topic0 (event signature hash) of the named event.
func (d *Decoder) Topic(name string) (string, error) {
	ev, ok := d.abi.Events[name]
	if !ok {
		return "", fmt.Errorf("%w: %s not in ABI", ErrUnknownEvent, name)
	}

	return ev.ID.Hex(), nil
}

// Name returns the event name for a log, or ErrUnknownEvent.
func (d *Decoder) Name(l types.Log) (string, error) {
	if len(l.Topics) == 0 {
		return "", fmt.Errorf("%w: anonymous log", ErrUnknownEvent)
	}

	ev, err := d.abi.EventByID(common.HexToHash(l.Topics[0]))
	if err != nil {
		return "", fmt.Errorf("%w: topic %s", ErrUnknownEvent, l.Topics[0])
	}

	return ev.Name, nil
}

// Decode unpacks the log arguments (data and indexed topics) and builds the typed event.
func (d *Decoder) Decode(l types.Log) (Event, error) {
	name, err := d.Name(l)
	if err != nil {
		return nil, err
	}

	ev := d.abi.Events[name]
	args := make(map[string]interface{}, len(ev.Inputs))

	if err = d.abi.UnpackIntoMap(args, name, l.Data); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, name, err)
	}

	var indexed abi.Arguments

	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}

	if len(indexed) > 0 {
		topics := make([]common.Hash, 0, len(l.Topics)-1)
		for _, t := range l.Topics[1:] {
			topics = append(topics, common.HexToHash(t))
		}

		if err = abi.ParseTopicsIntoMap(args, indexed, topics); err != nil {
			return nil, fmt.Errorf("%w: %s topics: %v", ErrMalformedPayload, name, err)
		}
	}

	return d.FromArgs(name, args)
}

// FromArgs builds the typed event from unpacked arguments.
func (d *Decoder) FromArgs(name string, args map[string]interface{}) (Event, error) {
	a := argMap{name: name, m: args}

	switch name {
	case EscrowCreated:
		return d.escrow(a)
	case PayrollApproved:
		return d.payroll(a)
	case WithdrawApproved:
		return d.withdraw(a)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

func (d *Decoder) escrow(a argMap) (Escrow, error) {
	var (
		e   Escrow
		err error
	)

	if e.EscrowID, err = a.str(true, "escrowId"); err != nil {
		return e, err
	}

	if e.Sender, err = a.str(true, "sender", "senderWalletAddress"); err != nil {
		return e, err
	}

	e.GroupID, _ = a.str(false, "groupId")

	total, err := a.big(false, "totalAmount")
	if err != nil {
		return e, err
	}

	e.TotalAmount = ToTokenUnits(total, d.decimals)

	created, err := a.big(false, "createdAt")
	if err != nil {
		return e, err
	}

	if created != nil && created.Sign() > 0 {
		e.CreatedAt = time.Unix(created.Int64(), 0).UTC()
	}

	if _, ok := a.get("receivers"); ok {
		if e.Receivers, err = a.strs("receivers"); err != nil {
			return e, err
		}
	}

	amounts, err := a.bigs("amounts")
	if err != nil {
		return e, err
	}

	for _, am := range amounts {
		e.Amounts = append(e.Amounts, ToTokenUnits(am, d.decimals))
	}

	return e, nil
}

func (d *Decoder) payroll(a argMap) (Payroll, error) {
	var (
		p   Payroll
		err error
	)

	if p.TxID, err = a.str(true, "txId"); err != nil {
		return p, err
	}

	p.SenderID, _ = a.str(false, "senderId")
	p.SenderName, _ = a.str(false, "senderName")

	if p.GroupID, err = a.str(true, "groupId"); err != nil {
		return p, err
	}

	p.GroupName, _ = a.str(false, "groupName")
	p.OriginCurrency, _ = a.str(false, "originCurrency")

	total, err := a.big(false, "totalAmount")
	if err != nil {
		return p, err
	}

	p.TotalAmount = ToTokenUnits(total, d.decimals)

	count, err := a.big(false, "totalReceiver", "totalReceiverCount")
	if err != nil {
		return p, err
	}

	if count != nil {
		p.TotalReceiver = count.Int64()
	}

	raw, err := a.strs("receivers", "Receivers")
	if err != nil {
		return p, err
	}

	p.Receivers = make([]Receiver, 0, len(raw))

	for i, s := range raw {
		r, err := d.ParseReceiver(s)
		if err != nil {
			return p, fmt.Errorf("receiver %d: %w", i, err)
		}

		p.Receivers = append(p.Receivers, r)
	}

	return p, nil
}

// ParseReceiver decodes one JSON encoded payroll receiver, ie. {"email":"a@b.c","fullname":"A","amount":"1000"}.
func (d *Decoder) ParseReceiver(s string) (Receiver, error) {
	var raw struct {
		Email    string    `json:"email"`
		Fullname string    `json:"fullname"`
		Amount   BaseUnits `json:"amount"`
	}

	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Receiver{}, fmt.Errorf("%w: receiver %q: %v", ErrMalformedPayload, s, err)
	}

	if raw.Email == "" {
		return Receiver{}, fmt.Errorf("%w: receiver %q has no email", ErrMalformedPayload, s)
	}

	amount, err := ParseBaseUnits(string(raw.Amount), d.decimals)
	if err != nil {
		return Receiver{}, err
	}

	return Receiver{Email: raw.Email, Fullname: raw.Fullname, Amount: amount, BaseUnits: string(raw.Amount)}, nil
}

func (d *Decoder) withdraw(a argMap) (Withdraw, error) {
	var (
		w   Withdraw
		err error
	)

	if w.WithdrawID, err = a.str(true, "withdrawId"); err != nil {
		return w, err
	}

	if w.Choice, err = a.str(true, "choice"); err != nil {
		return w, err
	}

	amount, err := a.big(true, "amount")
	if err != nil {
		return w, err
	}

	w.Amount = ToTokenUnits(amount, d.decimals)
	w.BaseUnits = amount.String()

	w.ReceiverID, _ = a.str(false, "receiverId")
	w.OriginCurrency, _ = a.str(false, "originCurrency")
	w.TargetCurrency, _ = a.str(false, "targetCurrency")
	w.BankID, _ = a.str(false, "bankId")
	w.DepositWalletAddress, _ = a.str(false, "depositWalletAddress")
	w.BankName, _ = a.str(false, "bankName")
	w.BankAccountName, _ = a.str(false, "bankAccountName")
	w.BankAccountNumber, _ = a.str(false, "bankAccountNumber")
	w.WalletAddress, _ = a.str(false, "walletAddress")
	w.NetworkChainID, _ = a.str(false, "networkChainId")

	return w, nil
}

// argMap reads loosely typed ABI values.
type argMap struct {
	name string
	m    map[string]interface{}
}

func (a argMap) get(names ...string) (interface{}, bool) {
	for _, n := range names {
		if v, ok := a.m[n]; ok && v != nil {
			return v, true
		}
	}

	return nil, false
}

func (a argMap) missing(names []string) error {
	return fmt.Errorf("%w: %s has no %s", ErrMalformedPayload, a.name, names[0])
}

func (a argMap) wrong(names []string, v interface{}) error {
	return fmt.Errorf("%w: %s.%s has unexpected type %T", ErrMalformedPayload, a.name, names[0], v)
}

func (a argMap) str(required bool, names ...string) (string, error) {
	v, ok := a.get(names...)
	if !ok {
		if required {
			return "", a.missing(names)
		}

		return "", nil
	}

	var s string

	switch t := v.(type) {
	case string:
		s = t
	case common.Address:
		s = t.Hex()
	case common.Hash:
		s = t.Hex()
	case [32]byte:
		s = hexutil.Encode(t[:])
	case []byte:
		s = hexutil.Encode(t)
	case *big.Int:
		s = t.String()
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64, int, uint:
		s = fmt.Sprint(t)
	default:
		return "", a.wrong(names, v)
	}

	if required && s == "" {
		return "", a.missing(names)
	}

	return s, nil
}

func (a argMap) big(required bool, names ...string) (*big.Int, error) {
	v, ok := a.get(names...)
	if !ok {
		if required {
			return nil, a.missing(names)
		}

		return nil, nil
	}

	var n *big.Int

	switch t := v.(type) {
	case *big.Int:
		n = t
	case uint8:
		n = new(big.Int).SetUint64(uint64(t))
	case uint16:
		n = new(big.Int).SetUint64(uint64(t))
	case uint32:
		n = new(big.Int).SetUint64(uint64(t))
	case uint64:
		n = new(big.Int).SetUint64(t)
	case int64:
		n = big.NewInt(t)
	case int:
		n = big.NewInt(int64(t))
	case string:
		var ok bool
		if n, ok = new(big.Int).SetString(t, 0); !ok {
			return nil, fmt.Errorf("%w: %s.%s is not a number: %q", ErrMalformedPayload, a.name, names[0], t)
		}
	default:
		return nil, a.wrong(names, v)
	}

	if n == nil || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s.%s must not be negative: %v", ErrMalformedPayload, a.name, names[0], n)
	}

	return n, nil
}

func (a argMap) strs(names ...string) ([]string, error) {
	v, ok := a.get(names...)
	if !ok {
		return nil, a.missing(names)
	}

	switch t := v.(type) {
	case []string:
		return t, nil
	case []common.Address:
		res := make([]string, len(t))
		for i := range t {
			res[i] = t[i].Hex()
		}

		return res, nil
	case [][32]byte:
		res := make([]string, len(t))
		for i := range t {
			res[i] = hexutil.Encode(t[i][:])
		}

		return res, nil
	case []interface{}:
		res := make([]string, len(t))
		for i := range t {
			s, err := argMap{name: a.name, m: map[string]interface{}{names[0]: t[i]}}.str(false, names[0])
			if err != nil {
				return nil, err
			}

			res[i] = s
		}

		return res, nil
	}

	return nil, a.wrong(names, v)
}

func (a argMap) bigs(names ...string) ([]*big.Int, error) {
	v, ok := a.get(names...)
	if !ok {
		return nil, nil
	}

	switch t := v.(type) {
	case []*big.Int:
		for _, n := range t {
			if n == nil || n.Sign() < 0 {
				return nil, fmt.Errorf("%w: %s.%s must not be negative: %v", ErrMalformedPayload, a.name, names[0], n)
			}
		}

		return t, nil
	case []interface{}:
		res := make([]*big.Int, len(t))
		for i := range t {
			n, err := argMap{name: a.name, m: map[string]interface{}{names[0]: t[i]}}.big(true, names[0])
			if err != nil {
				return nil, err
			}

			res[i] = n
		}

		return res, nil
	}

	return nil, a.wrong(names, v)
}
