// AngelaMos | 2026
// device.go

package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	deviceSeedFile = "device_seed"
	seedBytes      = 16
)

// DeviceIdentity derives a stable, opaque device hash. The random seed is
// generated once and persisted, so reinstalling the app produces a new
// device while ordinary restarts do not. Raw hardware identifiers never
// leave the machine.
type DeviceIdentity struct {
	dir string
}

func NewDeviceIdentity(dir string) *DeviceIdentity {
	return &DeviceIdentity{dir: dir}
}

func (d *DeviceIdentity) Hash() (string, error) {
	seed, err := d.loadOrCreateSeed()
	if err != nil {
		return "", err
	}

	zone, _ := time.Now().Zone()
	material := strings.Join([]string{
		runtime.GOOS,
		runtime.GOARCH,
		zone,
	}, "|")

	digest := argon2.IDKey([]byte(material), seed, 1, 64*1024, 4, 32)
	return hex.EncodeToString(digest), nil
}

func (d *DeviceIdentity) loadOrCreateSeed() ([]byte, error) {
	path := filepath.Join(d.dir, deviceSeedFile)

	if data, err := os.ReadFile(path); err == nil && len(data) == seedBytes {
		return data, nil
	}

	seed := make([]byte, seedBytes)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate device seed: %w", err)
	}

	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("persist device seed: %w", err)
	}

	return seed, nil
}
