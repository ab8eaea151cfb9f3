package lights

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/level451/neewerctl/internal/ble"
)

// scanKey is the single-flight key: all discovery requests coalesce onto one
// radio scan regardless of which light asked for it.
const scanKey = "scan"

// Scanner serialises discovery. The radio supports exactly one scan at a
// time, so concurrent callers share the result of whichever scan is already
// in flight rather than queueing their own.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scanner struct {
	adapter ble.Adapter
	window  time.Duration

	group  singleflight.Group
	active atomic.Int32

	scans  atomic.Uint64
	shared atomic.Uint64
}

// ScannerStats contains counters for observability.
type ScannerStats struct {
	Scans  uint64 `json:"scans"`
	Shared uint64 `json:"shared"`
}

// NewScanner creates a Scanner over the given adapter.
//
// Parameters:
//   - adapter: Radio adapter to scan with
//   - window: Maximum duration of one scan
func NewScanner(adapter ble.Adapter, window time.Duration) *Scanner {
	return &Scanner{
		adapter: adapter,
		window:  window,
	}
}

// Discover runs (or joins) a scan and returns discovered handles keyed by
// lower-case MAC.
//
// Callers that join an in-flight scan receive that scan's result, including
// its early-stop set. A caller whose target is absent from a shared result
// treats it as a discovery miss and retries later; the alternative is
// back-to-back scans, which starve the radio.
//
// Parameters:
//   - ctx: Cancels the scan (leader only; joiners return when the leader does)
//   - targets: MACs whose appearance ends the scan early (may be empty)
//
// Returns:
//   - map[string]ble.DeviceHandle: Discovered devices keyed by MAC
//   - error: If the underlying scan failed
func (s *Scanner) Discover(ctx context.Context, targets map[string]struct{}) (map[string]ble.DeviceHandle, error) {
	v, err, shared := s.group.Do(scanKey, func() (any, error) {
		s.active.Add(1)
		defer s.active.Add(-1)
		s.scans.Add(1)

		handles, err := s.adapter.Discover(ctx, s.window, targets)
		if err != nil {
			return nil, err
		}

		found := make(map[string]ble.DeviceHandle, len(handles))
		for _, h := range handles {
			found[h.ID()] = h
		}
		return found, nil
	})
	if shared {
		s.shared.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return v.(map[string]ble.DeviceHandle), nil
}

// Active reports whether a scan is currently running.
func (s *Scanner) Active() bool {
	return s.active.Load() > 0
}

// Stats returns scan counters.
func (s *Scanner) Stats() ScannerStats {
	return ScannerStats{
		Scans:  s.scans.Load(),
		Shared: s.shared.Load(),
	}
}
