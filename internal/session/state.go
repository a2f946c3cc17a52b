// Package session holds the register's single session state and the pure
// reducer that moves it between views.
package session

import "posterm/internal/model"

// View is the screen the register shows.
type View string

const (
	ViewCatalog  View = "catalog"
	ViewCheckout View = "checkout"
	ViewReceipt  View = "receipt"
)

// Tab is the active panel of the catalog view.
type Tab string

const (
	TabReader    Tab = "reader"
	TabKeypad    Tab = "keypad"
	TabLibrary   Tab = "library"
	TabFavorites Tab = "favorites"
)

// ValidTab reports whether t names a known tab.
func ValidTab(t Tab) bool {
	switch t {
	case TabReader, TabKeypad, TabLibrary, TabFavorites:
		return true
	}
	return false
}

// ReaderState mirrors the card reader session. It never affects the cart.
type ReaderState struct {
	Status model.ReaderStatus `json:"status"`
	Reader *model.ReaderInfo  `json:"reader,omitempty"`
	Err    string             `json:"error,omitempty"`
}

// State is the whole POS session.
type State struct {
	Products []model.Product    `json:"products"`
	Lines    []model.CartLine   `json:"lines"`
	Customer model.CustomerInfo `json:"customer"`

	View      View `json:"view"`
	ActiveTab Tab  `json:"active_tab"`

	ClientSecret string              `json:"client_secret,omitempty"`
	Order        *model.OrderSummary `json:"order,omitempty"`

	Loading      bool   `json:"loading"`
	Error        string `json:"error,omitempty"`
	IsProcessing bool   `json:"is_processing"`
	PaymentError string `json:"payment_error,omitempty"`

	Reader ReaderState `json:"reader"`
}

// Initial returns the state of a freshly opened register.
func Initial() State {
	return State{
		View:      ViewCatalog,
		ActiveTab: TabLibrary,
		Loading:   true,
		Reader:    ReaderState{Status: model.ReaderNotConnected},
	}
}

// Line returns the cart line with the given key.
func (s State) Line(key string) (model.CartLine, bool) {
	if i := s.lineIndex(key); i >= 0 {
		return s.Lines[i], true
	}
	return model.CartLine{}, false
}

func (s State) lineIndex(key string) int {
	for i, l := range s.Lines {
		if l.Key == key {
			return i
		}
	}
	return -1
}

// SubtotalCents sums the captured prices of all lines.
func (s State) SubtotalCents() int64 {
	var total int64
	for _, l := range s.Lines {
		total += l.TotalCents()
	}
	return total
}

// ItemCount sums the quantities of all lines.
func (s State) ItemCount() int64 {
	var n int64
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// ReaderConnected reports whether a reader is connected, whichever way it was paired.
func (s State) ReaderConnected() bool {
	return s.Reader.Status == model.ReaderConnected
}
