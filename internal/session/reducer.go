package session

import "posterm/internal/model"

// Reduce returns the state that follows s after a. It has no side effects and
// never mutates s: slices are copied before they change. Actions that make no
// sense in the current view return s unchanged.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetLoading:
		s.Loading = true
		s.Error = ""
	case SetProducts:
		s.Products = a.Products
		s.Loading = false
		s.Error = ""
	case SetError:
		s.Loading = false
		s.Error = a.Message
	case SetTab:
		if ValidTab(a.Tab) {
			s.ActiveTab = a.Tab
		}

	case AddToCart:
		if s.View != ViewCatalog || a.Line.Key == "" || a.Line.Quantity <= 0 {
			return s
		}
		s.Lines = addLine(s.Lines, a.Line)
	case SetItemQty:
		if s.View != ViewCatalog {
			return s
		}
		i := s.lineIndex(a.Key)
		if i < 0 {
			return s
		}
		if a.Qty <= 0 {
			s.Lines = removeAt(s.Lines, i)
			return s
		}
		lines := cloneLines(s.Lines)
		lines[i].Quantity = a.Qty
		s.Lines = lines
	case RemoveFromCart:
		if s.View != ViewCatalog {
			return s
		}
		if i := s.lineIndex(a.Key); i >= 0 {
			s.Lines = removeAt(s.Lines, i)
		}
	case ClearCart:
		if s.View != ViewCatalog {
			return s
		}
		s.Lines = nil
	case SetCustomer:
		s.Customer = a.Customer

	case ChargeStarted:
		if s.View != ViewCatalog || len(s.Lines) == 0 || s.IsProcessing {
			return s
		}
		s.IsProcessing = true
		s.Error = ""
	case ChargeFailed:
		if s.View != ViewCatalog {
			return s
		}
		s.IsProcessing = false
		s.Error = a.Message
	case SetPaymentIntent:
		if s.View != ViewCatalog || a.ClientSecret == "" {
			return s
		}
		order := a.Order
		s.View = ViewCheckout
		s.ClientSecret = a.ClientSecret
		s.Order = &order
		s.IsProcessing = false
		s.Error = ""
		s.PaymentError = ""
	case ConfirmStarted:
		if s.View != ViewCheckout {
			return s
		}
		s.IsProcessing = true
		s.PaymentError = ""
	case PaymentFailed:
		if s.View != ViewCheckout {
			return s
		}
		s.IsProcessing = false
		s.PaymentError = a.Message
	case PaymentSuccess:
		if s.View != ViewCheckout {
			return s
		}
		s.View = ViewReceipt
		s.IsProcessing = false
		s.PaymentError = ""
	case BackToCatalog:
		if s.View != ViewCheckout {
			return s
		}
		s.View = ViewCatalog
		s.ClientSecret = ""
		s.Order = nil
		s.IsProcessing = false
		s.PaymentError = ""
	case NewSale:
		next := Initial()
		next.Products = s.Products
		next.Loading = false
		next.Reader = s.Reader
		return next

	case ReaderChanged:
		s.Reader = ReaderState{Status: a.Status, Reader: a.Reader, Err: a.Err}
	}
	return s
}

func addLine(lines []model.CartLine, line model.CartLine) []model.CartLine {
	out := cloneLines(lines)
	for i := range out {
		if out[i].Key == line.Key {
			out[i].Quantity += line.Quantity
			return out
		}
	}
	return append(out, line)
}

func removeAt(lines []model.CartLine, i int) []model.CartLine {
	out := make([]model.CartLine, 0, len(lines)-1)
	out = append(out, lines[:i]...)
	return append(out, lines[i+1:]...)
}

func cloneLines(lines []model.CartLine) []model.CartLine {
	if lines == nil {
		return nil
	}
	out := make([]model.CartLine, len(lines), len(lines)+1)
	copy(out, lines)
	return out
}
