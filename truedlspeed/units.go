package truedlspeed

import (
	"strings"

	"github.com/pkg/errors"
)

// decimal mega, as network speeds are conventionally reported
const bytesPerMB = 1_000_000.0

// ConvertWindowBytes turns the bytes received during one sampling window
// into the display value for unit.
func ConvertWindowBytes(bytes int64, unit Unit) float64 {
	if unit == UnitMBps {
		return float64(bytes) / bytesPerMB
	}
	return float64(bytes*8) / bytesPerMB
}

func ParseUnit(s string) (Unit, error) {
	switch strings.TrimSpace(s) {
	case "Mbps", "mbps", "bits":
		return UnitMbps, nil
	case "MB/s", "MBps", "bytes":
		return UnitMBps, nil
	}
	return UnitMbps, errors.Errorf("unknown unit %q (want Mbps or MB/s)", s)
}

// NormalizeToMbps expresses a throughput sample in Mbps, the unit the
// gauge is scaled in.
func NormalizeToMbps(sample Sample) float64 {
	if sample.Unit == UnitMBps {
		return sample.Value * 8
	}
	return sample.Value
}
