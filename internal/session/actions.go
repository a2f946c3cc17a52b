package session

import "posterm/internal/model"

// Action is a state transition request. The set is closed: only the types
// in this file implement it.
type Action interface {
	Type() string
}

// Action type names. They are stable: journals are keyed on them.
const (
	TypeSetLoading       = "SET_LOADING"
	TypeSetProducts      = "SET_PRODUCTS"
	TypeSetError         = "SET_ERROR"
	TypeSetTab           = "SET_TAB"
	TypeAddToCart        = "ADD_TO_CART"
	TypeSetItemQty       = "SET_ITEM_QTY"
	TypeRemoveFromCart   = "REMOVE_FROM_CART"
	TypeClearCart        = "CLEAR_CART"
	TypeSetCustomer      = "SET_CUSTOMER"
	TypeChargeStarted    = "CHARGE_STARTED"
	TypeChargeFailed     = "CHARGE_FAILED"
	TypeSetPaymentIntent = "SET_PAYMENT_INTENT"
	TypeConfirmStarted   = "CONFIRM_STARTED"
	TypePaymentFailed    = "PAYMENT_FAILED"
	TypePaymentSuccess   = "PAYMENT_SUCCESS"
	TypeBackToCatalog    = "BACK_TO_CATALOG"
	TypeNewSale          = "NEW_SALE"
	TypeReaderChanged    = "READER_CHANGED"
)

type SetLoading struct{}

type SetProducts struct {
	Products []model.Product `json:"products"`
}

// SetError records a catalog load failure.
type SetError struct {
	Message string `json:"message"`
}

type SetTab struct {
	Tab Tab `json:"tab"`
}

// AddToCart merges Line into the cart by key.
type AddToCart struct {
	Line model.CartLine `json:"line"`
}

type SetItemQty struct {
	Key string `json:"key"`
	Qty int64  `json:"qty"`
}

type RemoveFromCart struct {
	Key string `json:"key"`
}

type ClearCart struct{}

type SetCustomer struct {
	Customer model.CustomerInfo `json:"customer"`
}

type ChargeStarted struct{}

type ChargeFailed struct {
	Message string `json:"message"`
}

type SetPaymentIntent struct {
	ClientSecret string             `json:"client_secret"`
	Order        model.OrderSummary `json:"order"`
}

type ConfirmStarted struct{}

type PaymentFailed struct {
	Message string `json:"message"`
}

type PaymentSuccess struct{}

type BackToCatalog struct{}

type NewSale struct{}

type ReaderChanged struct {
	Status model.ReaderStatus `json:"status"`
	Reader *model.ReaderInfo  `json:"reader,omitempty"`
	Err    string             `json:"error,omitempty"`
}

func (SetLoading) Type() string       { return TypeSetLoading }
func (SetProducts) Type() string      { return TypeSetProducts }
func (SetError) Type() string         { return TypeSetError }
func (SetTab) Type() string           { return TypeSetTab }
func (AddToCart) Type() string        { return TypeAddToCart }
func (SetItemQty) Type() string       { return TypeSetItemQty }
func (RemoveFromCart) Type() string   { return TypeRemoveFromCart }
func (ClearCart) Type() string        { return TypeClearCart }
func (SetCustomer) Type() string      { return TypeSetCustomer }
func (ChargeStarted) Type() string    { return TypeChargeStarted }
func (ChargeFailed) Type() string     { return TypeChargeFailed }
func (SetPaymentIntent) Type() string { return TypeSetPaymentIntent }
func (ConfirmStarted) Type() string   { return TypeConfirmStarted }
func (PaymentFailed) Type() string    { return TypePaymentFailed }
func (PaymentSuccess) Type() string   { return TypePaymentSuccess }
func (BackToCatalog) Type() string    { return TypeBackToCatalog }
func (NewSale) Type() string          { return TypeNewSale }
func (ReaderChanged) Type() string    { return TypeReaderChanged }
