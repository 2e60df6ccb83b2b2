package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultHaltReason se usa cuando el fichero de halt existe pero está vacío
// (por ejemplo creado con `touch`).
const DefaultHaltReason = "halt file present"

// HaltFile es el kill switch fuera de banda: si el fichero existe el trading
// se detiene, y su contenido es el motivo. Se lee en cada consulta para que
// el operador pueda activarlo sin tocar el proceso.
type HaltFile struct {
	path string
}

// NewHaltFile crea un HaltFile sobre path.
func NewHaltFile(path string) *HaltFile {
	return &HaltFile{path: path}
}

// Path devuelve la ruta del fichero.
func (h *HaltFile) Path() string { return h.path }

// Halted implementa ports.HaltSource.
func (h *HaltFile) Halted(_ context.Context) (bool, string, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("storage.HaltFile.Halted: read %q: %w", h.path, err)
	}
	reason := strings.TrimSpace(string(data))
	if reason == "" {
		reason = DefaultHaltReason
	}
	return true, reason, nil
}

// Set activa el kill switch con el motivo dado.
func (h *HaltFile) Set(reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultHaltReason
	}
	if err := writeAtomic(h.path, []byte(reason+"\n")); err != nil {
		return fmt.Errorf("storage.HaltFile.Set: %w", err)
	}
	return nil
}

// Clear desactiva el kill switch. No es error si no estaba activo.
func (h *HaltFile) Clear() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage.HaltFile.Clear: %w", err)
	}
	return nil
}
