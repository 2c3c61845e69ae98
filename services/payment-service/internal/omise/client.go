package omisecli

import (
	"encoding/json"
	"fmt"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

func NewOmiseClient(pub, sec string) (*omise.Client, error) {
	c, err := omise.NewClient(pub, sec)
	if err != nil {
		return nil, err
	}
	c.SetDebug(false)
	return c, nil
}

// Gateway narrows the Omise SDK to the calls this service makes.
type Gateway struct {
	c *omise.Client
}

func NewGateway(c *omise.Client) *Gateway {
	return &Gateway{c: c}
}

type ChargeInput struct {
	BookingID string
	Amount    int64
	Currency  string
	CardToken string
	SourceID  string
	ReturnURI string
}

func (g *Gateway) CreateCharge(in ChargeInput) (*omise.Charge, error) {
	ch := &omise.Charge{}
	err := g.c.Do(ch, &operations.CreateCharge{
		Amount:    in.Amount,
		Currency:  in.Currency,
		Card:      in.CardToken,
		Source:    in.SourceID,
		ReturnURI: in.ReturnURI,
		Metadata:  map[string]interface{}{"booking_id": in.BookingID},
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (g *Gateway) RetrieveCharge(id string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := g.c.Do(ch, &operations.RetrieveCharge{ChargeID: id}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (g *Gateway) CreateRefund(chargeID string, amount int64) (*omise.Refund, error) {
	rf := &omise.Refund{}
	if err := g.c.Do(rf, &operations.CreateRefund{ChargeID: chargeID, Amount: amount}); err != nil {
		return nil, err
	}
	return rf, nil
}

// RetrieveEvent fetches the event from Omise again, which is how webhook
// deliveries are authenticated.
func (g *Gateway) RetrieveEvent(id string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := g.c.Do(ev, &operations.RetrieveEvent{EventID: id}); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodeData re-decodes an event's loosely typed Data into out.
func DecodeData(ev *omise.Event, out any) error {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal event data: %w", err)
	}
	return nil
}

// BookingID reads the booking reference stored on a charge at creation.
func BookingID(ch *omise.Charge) string {
	id, _ := ch.Metadata["booking_id"].(string)
	return id
}
