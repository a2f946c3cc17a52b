package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posterm/internal/model"
)

func TestActionCodecReplaysToSameState(t *testing.T) {
	actions := []Action{
		SetLoading{},
		SetProducts{Products: []model.Product{{ID: "p1", Title: "Tee", Variants: []model.Variant{{ID: "v1", Title: "Default", PriceCents: 1999}}}}},
		SetTab{Tab: TabFavorites},
		AddToCart{Line: teeLine(2)},
		SetItemQty{Key: teeLine(1).Key, Qty: 3},
		SetCustomer{Customer: model.CustomerInfo{Email: "a@b.c"}},
		ChargeStarted{},
		SetPaymentIntent{ClientSecret: "s", Order: model.OrderSummary{ID: "o", OrderNumber: "1", TotalCents: 5997}},
		ConfirmStarted{},
		PaymentFailed{Message: "declined"},
		ConfirmStarted{},
		PaymentSuccess{},
		ReaderChanged{Status: model.ReaderConnected, Reader: &model.ReaderInfo{Serial: "x"}},
		NewSale{},
	}

	direct := Initial()
	replayed := Initial()
	for _, a := range actions {
		typ, payload, err := EncodeAction(a)
		require.NoError(t, err)
		decoded, err := DecodeAction(typ, payload)
		require.NoError(t, err)
		assert.Equal(t, a.Type(), decoded.Type())

		direct = Reduce(direct, a)
		replayed = Reduce(replayed, decoded)
	}
	assert.Equal(t, direct, replayed)
}

func TestDecodeActionUnknown(t *testing.T) {
	_, err := DecodeAction("DROP_TABLE", nil)
	assert.Error(t, err)

	_, err = DecodeAction(TypeAddToCart, []byte("{"))
	assert.Error(t, err)
}
