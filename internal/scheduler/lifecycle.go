package scheduler

// Guardas de proceso: un lock de directorio para que nunca corran dos
// ticks a la vez contra el mismo estado, un heartbeat para el watchdog y
// un STOP file como kill switch manual.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	lockDirName       = "courtbot.lock"
	heartbeatFileName = "heartbeat"
	stopFileName      = "STOP"

	// Un lock más viejo que esto es de un proceso muerto y se roba.
	staleLockAge = 30 * time.Minute
)

// ErrStopped indica que el kill switch manual está activo.
var ErrStopped = errors.New("scheduler: STOP file present")

// ErrLocked indica que otro proceso tiene el lock.
var ErrLocked = errors.New("scheduler: another instance holds the lock")

// Lifecycle gestiona lock, heartbeat y STOP dentro del data dir.
type Lifecycle struct {
	dataDir string
}

func NewLifecycle(dataDir string) *Lifecycle {
	return &Lifecycle{dataDir: dataDir}
}

// Acquire toma el lock de instancia única. mkdir es atómico a nivel de
// filesystem; un lock viejo se considera de un proceso muerto.
func (l *Lifecycle) Acquire() error {
	path := filepath.Join(l.dataDir, lockDirName)

	err := os.Mkdir(path, 0o755)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return fmt.Errorf("scheduler: acquire lock: %w", err)
	}

	info, statErr := os.Stat(path)
	if statErr == nil && time.Since(info.ModTime()) > staleLockAge {
		if rmErr := os.Remove(path); rmErr == nil {
			if os.Mkdir(path, 0o755) == nil {
				return nil
			}
		}
	}
	return ErrLocked
}

// Release suelta el lock. Ignora que no exista.
func (l *Lifecycle) Release() {
	_ = os.Remove(filepath.Join(l.dataDir, lockDirName))
}

// Heartbeat touches the liveness file the watchdog checks.
func (l *Lifecycle) Heartbeat() error {
	path := filepath.Join(l.dataDir, heartbeatFileName)
	now := time.Now()
	if err := os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("scheduler: heartbeat: %w", err)
	}
	return nil
}

// HeartbeatAge devuelve la edad del último heartbeat. Sin archivo devuelve
// una edad enorme, no un error: el watchdog trata ambos igual.
func (l *Lifecycle) HeartbeatAge() time.Duration {
	info, err := os.Stat(filepath.Join(l.dataDir, heartbeatFileName))
	if err != nil {
		return 24 * time.Hour
	}
	return time.Since(info.ModTime())
}

// CheckStop devuelve ErrStopped si el kill switch manual existe.
func (l *Lifecycle) CheckStop() error {
	if _, err := os.Stat(filepath.Join(l.dataDir, stopFileName)); err == nil {
		return ErrStopped
	}
	return nil
}
