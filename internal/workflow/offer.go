package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Delivery is how the buyer wants to receive the item.
type Delivery string

const (
	DeliveryPickup   Delivery = "pickup"
	DeliveryShipping Delivery = "shipping"
	DeliveryBoth     Delivery = "both"
)

// deliveryLabels are the option labels the offer form shows.
var deliveryLabels = map[Delivery]string{
	DeliveryPickup:   "Abholung",
	DeliveryShipping: "Versand",
	DeliveryBoth:     "Beides",
}

// ParseDelivery accepts the English names and the German labels, case
// insensitively.
func ParseDelivery(s string) (Delivery, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, label := range deliveryLabels {
		if s == string(d) || s == strings.ToLower(label) {
			return d, nil
		}
	}
	return "", &ConfigError{Field: "delivery", Reason: fmt.Sprintf("%q is not one of pickup, shipping, both", s)}
}

// Label is the form option label for d.
func (d Delivery) Label() string {
	return deliveryLabels[d]
}

// RequiresShipping reports whether a shipping cost must accompany d.
func (d Delivery) RequiresShipping() bool {
	return d == DeliveryShipping || d == DeliveryBoth
}

// OfferSpec is the structured offer submitted in a conversation.
type OfferSpec struct {
	Price        float64
	Delivery     Delivery
	ShippingCost *float64
	Note         string
}

// Validate rejects inconsistent offers. The returned error is always a
// *ConfigError.
func (o OfferSpec) Validate() error {
	if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
		return &ConfigError{Field: "price", Reason: "must be a positive amount"}
	}
	if _, ok := deliveryLabels[o.Delivery]; !ok {
		return &ConfigError{Field: "delivery", Reason: fmt.Sprintf("%q is not one of pickup, shipping, both", o.Delivery)}
	}
	if o.Delivery.RequiresShipping() {
		if o.ShippingCost == nil {
			return &ConfigError{Field: "shipping cost", Reason: fmt.Sprintf("required for delivery %s", o.Delivery)}
		}
		if c := *o.ShippingCost; math.IsNaN(c) || math.IsInf(c, 0) || c <= 0 {
			return &ConfigError{Field: "shipping cost", Reason: "must be a positive amount"}
		}
	} else if o.ShippingCost != nil {
		return &ConfigError{Field: "shipping cost", Reason: "not allowed for pickup"}
	}
	return nil
}

// formatAmount renders an amount the way the price inputs accept it.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
