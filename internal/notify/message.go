package notify

import (
	"time"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// Event types accepted by the notify.events filter.
const (
	EventTradeExecuted   = "trade_executed"
	EventTradeSkipped    = "trade_skipped"
	EventTradingDisabled = "trading_disabled"
)

// Field is one labelled line of a Message.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered alert. Senders format it for their channel.
type Message struct {
	Event  string
	Title  string
	Fields []Field
	Body   string
	Footer string
	Time   time.Time
}

// TradeMessage renders the resolution of a copied (or skipped) trade.
func TradeMessage(ev domain.TradeEvent, r domain.Resolution) Message {
	m := Message{
		Event:  EventTradeSkipped,
		Title:  "Skipped " + string(ev.Side),
		Body:   r.Detail,
		Footer: ev.TxHash,
		Time:   ev.Timestamp,
	}
	if r.State == domain.StateExecuted {
		m.Event = EventTradeExecuted
		m.Title = "Copied " + string(ev.Side)
	}

	market := ev.Title
	if market == "" {
		market = shorten(ev.AssetID)
	}
	m.Fields = append(m.Fields,
		Field{Name: "Trader", Value: shorten(ev.Address)},
		Field{Name: "Market", Value: market},
	)
	if ev.OutcomeName != "" {
		m.Fields = append(m.Fields, Field{Name: "Outcome", Value: ev.OutcomeName})
	}
	m.Fields = append(m.Fields, Field{
		Name:  "Leader",
		Value: ev.Notional.StringFixed(2) + " USDC @ " + ev.Price.String(),
	})
	if r.Spent.IsPositive() {
		name := "Spent"
		if ev.Side == domain.SideSell {
			name = "Proceeds"
		}
		m.Fields = append(m.Fields, Field{Name: name, Value: r.Spent.StringFixed(2) + " USDC"})
	}
	m.Fields = append(m.Fields, Field{Name: "Result", Value: string(r.Outcome)})
	return m
}

// DisabledMessage renders a failed credential derivation.
func DisabledMessage(cause error) Message {
	m := Message{
		Event: EventTradingDisabled,
		Title: "Trading disabled",
		Body:  "New trades are resolved as skipped until the bot restarts.",
		Time:  time.Now().UTC(),
	}
	if cause != nil {
		m.Fields = []Field{{Name: "Cause", Value: cause.Error()}}
	}
	return m
}

// shorten keeps the head and tail of long hex identifiers.
func shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:8] + "…" + s[len(s)-4:]
}
