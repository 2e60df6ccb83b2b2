package storage

// Estado del risk monitor en un fichero YAML legible por el operador.
// La escritura es atómica: fichero temporal en el mismo directorio, fsync y
// rename. Un crash a mitad deja intacto el estado anterior.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// RiskFile implementa ports.RiskStateStore sobre un fichero YAML.
type RiskFile struct {
	path string
	mu   sync.Mutex
}

// NewRiskFile crea el store. El fichero no se toca hasta el primer Save.
func NewRiskFile(path string) *RiskFile {
	return &RiskFile{path: path}
}

// Path devuelve la ruta del fichero.
func (f *RiskFile) Path() string { return f.path }

// DTOs YAML. Los importes van como string para no perder precisión.
type riskStateYAML struct {
	TradingDay          string            `yaml:"trading_day"`
	DailyPnL            string            `yaml:"daily_pnl"`
	MarketExposure      []marketExposure  `yaml:"market_exposure,omitempty"`
	ExecutionFailures   int               `yaml:"execution_failures"`
	Halted              bool              `yaml:"halted"`
	HaltKind            string            `yaml:"halt_kind,omitempty"`
	HaltReason          string            `yaml:"halt_reason,omitempty"`
	HaltedAt            *time.Time        `yaml:"halted_at,omitempty"`
	LossLimitOverridden bool              `yaml:"loss_limit_overridden,omitempty"`
	DroppedAlerts       int               `yaml:"dropped_alerts"`
	Alerts              []alertYAML       `yaml:"alerts,omitempty"`
	History             []dailyRecordYAML `yaml:"history,omitempty"`
	UpdatedAt           time.Time         `yaml:"updated_at"`
}

type marketExposure struct {
	Market string `yaml:"market"`
	Size   string `yaml:"size"`
}

type alertYAML struct {
	Level     string    `yaml:"level"`
	Category  string    `yaml:"category"`
	Message   string    `yaml:"message"`
	Timestamp time.Time `yaml:"timestamp"`
}

type dailyRecordYAML struct {
	Day               string `yaml:"day"`
	PnL               string `yaml:"pnl"`
	ExecutionFailures int    `yaml:"execution_failures"`
	Halted            bool   `yaml:"halted,omitempty"`
	HaltReason        string `yaml:"halt_reason,omitempty"`
}

// Load lee el estado. Devuelve domain.ErrStateNotFound si el fichero no existe.
func (f *RiskFile) Load(_ context.Context) (domain.RiskState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.RiskState{}, domain.ErrStateNotFound
	}
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("storage.RiskFile.Load: read %q: %w", f.path, err)
	}

	var doc riskStateYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.RiskState{}, fmt.Errorf("storage.RiskFile.Load: parse %q: %w", f.path, err)
	}
	st, err := doc.toDomain()
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("storage.RiskFile.Load: %q: %w", f.path, err)
	}
	return st, nil
}

// Save escribe el estado de forma atómica.
func (f *RiskFile) Save(_ context.Context, st domain.RiskState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(fromDomain(st))
	if err != nil {
		return fmt.Errorf("storage.RiskFile.Save: marshal: %w", err)
	}
	if err := writeAtomic(f.path, data); err != nil {
		return fmt.Errorf("storage.RiskFile.Save: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op tras el rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func fromDomain(st domain.RiskState) riskStateYAML {
	doc := riskStateYAML{
		TradingDay:          st.TradingDay,
		DailyPnL:            st.DailyPnL.String(),
		ExecutionFailures:   st.ExecutionFailures,
		Halted:              st.Halted,
		HaltKind:            string(st.HaltKind),
		HaltReason:          st.HaltReason,
		LossLimitOverridden: st.LossLimitOverridden,
		DroppedAlerts:       st.DroppedAlerts,
		UpdatedAt:           st.UpdatedAt.UTC(),
	}
	if !st.HaltedAt.IsZero() {
		t := st.HaltedAt.UTC()
		doc.HaltedAt = &t
	}

	// Orden estable para que el fichero sea diffable.
	markets := make([]string, 0, len(st.MarketExposure))
	for m := range st.MarketExposure {
		markets = append(markets, m)
	}
	sort.Strings(markets)
	for _, m := range markets {
		doc.MarketExposure = append(doc.MarketExposure, marketExposure{Market: m, Size: st.MarketExposure[m].String()})
	}

	for _, a := range st.Alerts {
		doc.Alerts = append(doc.Alerts, alertYAML{
			Level:     string(a.Level),
			Category:  a.Category,
			Message:   a.Message,
			Timestamp: a.Timestamp.UTC(),
		})
	}
	for _, h := range st.History {
		doc.History = append(doc.History, dailyRecordYAML{
			Day:               h.Day,
			PnL:               h.PnL.String(),
			ExecutionFailures: h.ExecutionFailures,
			Halted:            h.Halted,
			HaltReason:        h.HaltReason,
		})
	}
	return doc
}

func (doc riskStateYAML) toDomain() (domain.RiskState, error) {
	pnl, err := parseDecimal(doc.DailyPnL)
	if err != nil {
		return domain.RiskState{}, fmt.Errorf("daily_pnl: %w", err)
	}
	st := domain.RiskState{
		TradingDay:          doc.TradingDay,
		DailyPnL:            pnl,
		MarketExposure:      make(map[string]decimal.Decimal, len(doc.MarketExposure)),
		ExecutionFailures:   doc.ExecutionFailures,
		Halted:              doc.Halted,
		HaltKind:            domain.HaltKind(doc.HaltKind),
		HaltReason:          doc.HaltReason,
		LossLimitOverridden: doc.LossLimitOverridden,
		DroppedAlerts:       doc.DroppedAlerts,
		UpdatedAt:           doc.UpdatedAt,
	}
	if doc.HaltedAt != nil {
		st.HaltedAt = *doc.HaltedAt
	}
	for _, me := range doc.MarketExposure {
		size, err := parseDecimal(me.Size)
		if err != nil {
			return domain.RiskState{}, fmt.Errorf("market_exposure %s: %w", me.Market, err)
		}
		st.MarketExposure[me.Market] = size
	}
	for _, a := range doc.Alerts {
		st.Alerts = append(st.Alerts, domain.Alert{
			Level:     domain.AlertLevel(a.Level),
			Category:  a.Category,
			Message:   a.Message,
			Timestamp: a.Timestamp,
		})
	}
	for _, h := range doc.History {
		p, err := parseDecimal(h.PnL)
		if err != nil {
			return domain.RiskState{}, fmt.Errorf("history %s: %w", h.Day, err)
		}
		st.History = append(st.History, domain.DailyRecord{
			Day:               h.Day,
			PnL:               p,
			ExecutionFailures: h.ExecutionFailures,
			Halted:            h.Halted,
			HaltReason:        h.HaltReason,
		})
	}
	return st, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
