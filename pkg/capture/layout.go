package capture

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hdrcam/capture-shot/pkg/plan"
)

// Artifact tags shared by the dated files and their published copies.
const (
	TagAutoFalse = "auto-false"
	TagAutoTrue  = "auto-true"
	TagManual    = "manual"
	TagHDR       = "HDR"
)

// PublishedTags lists the canonical artifacts in publication order.
var PublishedTags = []string{TagAutoFalse, TagAutoTrue, TagManual, TagHDR}

// StemFormat names every file of one run.
const StemFormat = "20060102-150405"

// Layout resolves the file names of one run. The stem is fixed once at run
// start so all outputs of a run share it.
type Layout struct {
	Root  string
	Ext   string
	Start time.Time
}

func NewLayout(root, ext string, start time.Time) Layout {
	return Layout{Root: root, Ext: ext, Start: start}
}

// Stem returns the YYYYMMDD-HHMMSS name prefix.
func (l Layout) Stem() string {
	return l.Start.Format(StemFormat)
}

// Dir returns the dated directory <root>/<YYYY>/<MM>.
func (l Layout) Dir() string {
	return filepath.Join(l.Root, l.Start.Format("2006"), l.Start.Format("01"))
}

// Dated returns the dated path of an artifact tag.
func (l Layout) Dated(tag string) string {
	return filepath.Join(l.Dir(), fmt.Sprintf("%s-%s.%s", l.Stem(), tag, l.Ext))
}

// Current returns the published path of an artifact tag.
func (l Layout) Current(tag string) string {
	return filepath.Join(l.Root, fmt.Sprintf("current-%s.%s", tag, l.Ext))
}

// ManualGlob matches every per-exposure manual file of the run. Blending
// works on the explicit list of successful shots; the glob names that set in
// dry-run output.
func (l Layout) ManualGlob() string {
	return filepath.Join(l.Dir(), fmt.Sprintf("%s-%s-*.%s", l.Stem(), TagManual, l.Ext))
}

// Tag returns the file tag of a planned shot. Manual exposures are
// zero-padded so name order matches exposure order.
func Tag(spec plan.CaptureSpec) string {
	if spec.Mode == plan.Manual {
		return fmt.Sprintf("%s-%04d", TagManual, spec.Exposure)
	}
	return spec.Mode.String()
}

// OutputPath returns where the shot described by spec is written.
func (l Layout) OutputPath(spec plan.CaptureSpec) string {
	return l.Dated(Tag(spec))
}
