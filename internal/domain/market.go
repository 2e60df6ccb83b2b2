package domain

import "time"

// Market representa un mercado binario de corta duración (15 minutos).
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	StartDate   time.Time
	EndDate     time.Time // fecha de resolución
	Tokens      [2]Token
	Active      bool
	Closed      bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string // "Yes" | "No"
}

// SecondsToEnd devuelve los segundos hasta la resolución, 0 si ya pasó
// o si EndDate no está definido.
func (m Market) SecondsToEnd(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	s := m.EndDate.Sub(now).Seconds()
	if s < 0 {
		return 0
	}
	return s
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// MarketQuote junta un mercado con los books de sus dos tokens.
type MarketQuote struct {
	Market Market
	Yes    OrderBook
	No     OrderBook
}

// Snapshot convierte los books en un Snapshot de top of book.
func (q MarketQuote) Snapshot(at time.Time) Snapshot {
	return Snapshot{
		Timestamp:   at,
		YesBid:      q.Yes.BestBid(),
		YesAsk:      q.Yes.BestAsk(),
		NoBid:       q.No.BestBid(),
		NoAsk:       q.No.BestAsk(),
		YesBidDepth: q.Yes.BestBidSize(),
		NoBidDepth:  q.No.BestBidSize(),
	}.Normalize()
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
