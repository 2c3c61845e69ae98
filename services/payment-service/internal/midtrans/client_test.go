package midtranscli

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	g := NewGateway("SB-Mid-server-key", false)
	n := Notification{OrderID: "b-1~0a1b2c3d", StatusCode: "200", GrossAmount: "150000.00"}
	n.SignatureKey = Signature(n.OrderID, n.StatusCode, n.GrossAmount, "SB-Mid-server-key")

	if len(n.SignatureKey) != 128 {
		t.Fatalf("signature length = %d", len(n.SignatureKey))
	}
	if !g.Verify(n) {
		t.Fatalf("valid signature rejected")
	}
	n.SignatureKey = strings.ToUpper(n.SignatureKey)
	if !g.Verify(n) {
		t.Fatalf("upper-case signature rejected")
	}

	tampered := n
	tampered.GrossAmount = "1.00"
	if g.Verify(tampered) {
		t.Fatalf("tampered amount accepted")
	}
	n.SignatureKey = ""
	if g.Verify(n) {
		t.Fatalf("empty signature accepted")
	}
}

func TestOrderIDRoundTrip(t *testing.T) {
	a, b := OrderID("b-42"), OrderID("b-42")
	if a == b {
		t.Fatalf("order ids must be unique: %s", a)
	}
	if got := BookingFromOrder(a); got != "b-42" {
		t.Fatalf("BookingFromOrder(%s) = %s", a, got)
	}
	if got := BookingFromOrder("legacy-order"); got != "legacy-order" {
		t.Fatalf("BookingFromOrder without suffix = %s", got)
	}
}
