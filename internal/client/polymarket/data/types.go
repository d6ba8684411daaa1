package polymarketdata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Trade is one observed fill by a tracked address. The Data-API serves
// numbers sometimes as JSON numbers and sometimes as strings, so the numeric
// fields decode through tolerant wrappers.
type Trade struct {
	TxHash      string  `json:"transactionHash"`
	Address     string  `json:"proxyWallet"`
	Side        string  `json:"side"`
	Outcome     string  `json:"outcome"`
	Price       Float   `json:"price"`
	Size        Float   `json:"size"`
	ConditionID string  `json:"conditionId"`
	Asset       string  `json:"asset"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	EventSlug   string  `json:"eventSlug"`
	Timestamp   Seconds `json:"timestamp"`
}

// Notional is the trade's dollar value (price x size).
func (t Trade) Notional() float64 {
	return float64(t.Price) * float64(t.Size)
}

func (t Trade) IsBuy() bool {
	return strings.EqualFold(t.Side, "BUY")
}

type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err == nil {
		*f = Float(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if str == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	return fmt.Errorf("invalid number: %s", s)
}

// Seconds is a unix timestamp in seconds.
type Seconds int64

func (ts *Seconds) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*ts = 0
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err == nil {
		*ts = Seconds(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if str == "" {
			*ts = 0
			return nil
		}
		v, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return err
		}
		*ts = Seconds(v)
		return nil
	}
	return fmt.Errorf("invalid timestamp: %s", s)
}
