// Package snapshots carga ventanas históricas de top of book desde disco.
package snapshots

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/deltamaker/internal/domain"
)

// JSONFile implementa ports.WindowSource sobre un fichero JSON: un array de
// ventanas o una ventana por línea (JSON Lines).
//
// Las ventanas se devuelven tal cual; la validación es del engine, que
// convierte las inválidas en skips sin abortar el lote.
type JSONFile struct {
	path string
}

// NewJSONFile crea la fuente para path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

type windowJSON struct {
	MarketID  string         `json:"market_id"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Outcome   string         `json:"outcome"`
	Snapshots []snapshotJSON `json:"snapshots"`
}

type snapshotJSON struct {
	Timestamp   time.Time `json:"t"`
	YesBid      float64   `json:"yes_bid"`
	YesAsk      float64   `json:"yes_ask"`
	NoBid       float64   `json:"no_bid"`
	NoAsk       float64   `json:"no_ask"`
	YesBidDepth float64   `json:"yes_bid_depth"`
	NoBidDepth  float64   `json:"no_bid_depth"`
}

// LoadWindows lee todas las ventanas del fichero.
func (f *JSONFile) LoadWindows(ctx context.Context) ([]domain.MarketWindow, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("snapshots.LoadWindows: %w", err)
	}
	defer file.Close()

	windows, err := Decode(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("snapshots.LoadWindows: %s: %w", f.path, err)
	}
	slog.Info("backtest: windows loaded", "path", f.path, "windows", len(windows))
	return windows, nil
}

// Decode lee ventanas de r en cualquiera de los dos formatos.
func Decode(ctx context.Context, r io.Reader) ([]domain.MarketWindow, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	var raw []windowJSON
	if first == '[' {
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
	} else {
		for i := 1; ; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var w windowJSON
			err := dec.Decode(&w)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode window %d: %w", i, err)
			}
			raw = append(raw, w)
		}
	}

	out := make([]domain.MarketWindow, len(raw))
	for i, w := range raw {
		out[i] = w.toDomain()
	}
	return out, nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}

func (w windowJSON) toDomain() domain.MarketWindow {
	outcome, err := domain.ParseOutcome(w.Outcome)
	if err != nil {
		// Se conserva el valor crudo: Validate lo rechaza con su motivo.
		outcome = domain.Outcome(strings.TrimSpace(w.Outcome))
	}
	mw := domain.MarketWindow{
		MarketID:  w.MarketID,
		Start:     w.Start.UTC(),
		End:       w.End.UTC(),
		Outcome:   outcome,
		Snapshots: make([]domain.Snapshot, len(w.Snapshots)),
	}
	for i, s := range w.Snapshots {
		mw.Snapshots[i] = domain.Snapshot{
			Timestamp:   s.Timestamp.UTC(),
			YesBid:      s.YesBid,
			YesAsk:      s.YesAsk,
			NoBid:       s.NoBid,
			NoAsk:       s.NoAsk,
			YesBidDepth: s.YesBidDepth,
			NoBidDepth:  s.NoBidDepth,
		}
	}
	return mw
}
