package session

import (
	"encoding/json"
	"fmt"
)

// EncodeAction returns the type name and JSON payload of a.
func EncodeAction(a Action) (string, json.RawMessage, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", a.Type(), err)
	}
	return a.Type(), b, nil
}

// DecodeAction rebuilds an action from its type name and payload.
func DecodeAction(typ string, payload json.RawMessage) (Action, error) {
	switch typ {
	case TypeSetLoading:
		return SetLoading{}, nil
	case TypeClearCart:
		return ClearCart{}, nil
	case TypeChargeStarted:
		return ChargeStarted{}, nil
	case TypeConfirmStarted:
		return ConfirmStarted{}, nil
	case TypePaymentSuccess:
		return PaymentSuccess{}, nil
	case TypeBackToCatalog:
		return BackToCatalog{}, nil
	case TypeNewSale:
		return NewSale{}, nil
	case TypeSetProducts:
		return decodeInto[SetProducts](typ, payload)
	case TypeSetError:
		return decodeInto[SetError](typ, payload)
	case TypeSetTab:
		return decodeInto[SetTab](typ, payload)
	case TypeAddToCart:
		return decodeInto[AddToCart](typ, payload)
	case TypeSetItemQty:
		return decodeInto[SetItemQty](typ, payload)
	case TypeRemoveFromCart:
		return decodeInto[RemoveFromCart](typ, payload)
	case TypeSetCustomer:
		return decodeInto[SetCustomer](typ, payload)
	case TypeChargeFailed:
		return decodeInto[ChargeFailed](typ, payload)
	case TypeSetPaymentIntent:
		return decodeInto[SetPaymentIntent](typ, payload)
	case TypePaymentFailed:
		return decodeInto[PaymentFailed](typ, payload)
	case TypeReaderChanged:
		return decodeInto[ReaderChanged](typ, payload)
	default:
		return nil, fmt.Errorf("unknown action type %q", typ)
	}
}

func decodeInto[A Action](typ string, payload json.RawMessage) (Action, error) {
	var a A
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", typ, err)
		}
	}
	return a, nil
}
