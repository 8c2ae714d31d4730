package capture

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hdrcam/capture-shot/pkg/runner"
)

// ExposureTimeKey is the EXIF field stamped on manual exposures.
const ExposureTimeKey = "Exif.Photo.ExposureTime"

// ExposureDenominator turns the webcam's absolute exposure setting into the
// EXIF rational. Downstream consumers expect exactly <exposure>/5000.
const ExposureDenominator = 5000

// ExposureRational returns the unreduced EXIF value for an exposure setting.
func ExposureRational(exposure int) string {
	return fmt.Sprintf("%d/%d", exposure, ExposureDenominator)
}

// MetadataWriter drives exiv2.
type MetadataWriter struct {
	Bin     string
	Runner  runner.Runner
	Timeout time.Duration
}

func (m MetadataWriter) bin() string {
	if m.Bin == "" {
		return "exiv2"
	}
	return m.Bin
}

// WriteCommand is the exiv2 invocation that stamps the exposure time.
func (m MetadataWriter) WriteCommand(path string, exposure int) runner.Command {
	return runner.Command{
		Name:    m.bin(),
		Args:    []string{"-M", fmt.Sprintf("set %s Rational %s", ExposureTimeKey, ExposureRational(exposure)), path},
		Timeout: m.Timeout,
	}
}

// WriteExposureTime stamps path with <exposure>/5000.
func (m MetadataWriter) WriteExposureTime(ctx context.Context, path string, exposure int) error {
	_, err := runner.RunChecked(ctx, m.Runner, m.WriteCommand(path, exposure))
	return err
}

// ReadExposureTime reads the stamped exposure time back.
func (m MetadataWriter) ReadExposureTime(ctx context.Context, path string) (*big.Rat, error) {
	cmd := runner.Command{
		Name:    m.bin(),
		Args:    []string{"-K", ExposureTimeKey, "-Pv", path},
		Timeout: m.Timeout,
	}
	res, err := runner.RunChecked(ctx, m.Runner, cmd)
	if err != nil {
		return nil, err
	}
	return ParseRational(res.Stdout)
}

// ParseRational parses an EXIF rational such as "500/5000".
func ParseRational(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	num, den, ok := strings.Cut(s, "/")
	if !ok || strings.TrimSpace(num) == "" || strings.TrimSpace(den) == "" {
		return nil, fmt.Errorf("not a rational: %q", s)
	}
	r, ok := new(big.Rat).SetString(strings.TrimSpace(num) + "/" + strings.TrimSpace(den))
	if !ok {
		return nil, fmt.Errorf("not a rational: %q", s)
	}
	return r, nil
}
