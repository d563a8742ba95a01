package ioc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portenta/image-processing-ioc/internal/beam"
	"github.com/portenta/image-processing-ioc/internal/pv"
)

// Channel identifies one of the two image inputs.
type Channel string

const (
	Primary   Channel = "primary"
	Secondary Channel = "secondary"
)

// Channels lists both channels in publication order.
var Channels = []Channel{Primary, Secondary}

// PV names relative to the IOC prefix.
const (
	PVImagePathPrimary   = "ImagePathPrimary"
	PVImagePathSecondary = "ImagePathSecondary"
	PVROIRowMin          = "ROI_rowmin"
	PVROIRowMax          = "ROI_rowmax"
	PVROIColMin          = "ROI_colmin"
	PVROIColMax          = "ROI_colmax"
	PVROISize            = "ROI_size"
	PVRatio              = "ratio"

	PVTotalCounts = "total_counts"
	PVCenterRow   = "center_of_mass_row"
	PVCenterCol   = "center_of_mass_col"
)

// Loader reads a dataset out of an image file.
type Loader interface {
	Load(ctx context.Context, path, dataset string) (*beam.Array, error)
}

// Status tells whether a path update produced new values.
type Status string

const (
	StatusAnalyzed Status = "analyzed"
	StatusSkipped  Status = "skipped"
)

// Outcome describes one path update.
type Outcome struct {
	ID      string      `json:"id"`
	Channel Channel     `json:"channel"`
	Path    string      `json:"path"`
	Status  Status      `json:"status"`
	Reason  string      `json:"reason,omitempty"`
	Result  beam.Result `json:"result"`

	// Ratio is the published ratio when RatioUpdated is true. Otherwise the
	// previous ratio is held.
	Ratio        float64   `json:"ratio"`
	RatioUpdated bool      `json:"ratio_updated"`
	At           time.Time `json:"at"`
}

// Options configures an IOC.
type Options struct {
	Prefix   string
	Dataset  string
	Reduce   beam.Method
	ROI      beam.ROI
	ROISize  int
	Analysis beam.Options
}

// IOC owns the image-processing PV group.
type IOC struct {
	db      *pv.DB
	loader  Loader
	prefix  string
	dataset string

	// mu serializes path updates.
	mu sync.Mutex

	optMu    sync.RWMutex
	reduce   beam.Method
	analysis beam.Options

	lastMu    sync.RWMutex
	last      map[Channel]Outcome
	listeners []func(Outcome)

	now func() time.Time
}

// New declares the IOC's records in db and returns the IOC.
func New(db *pv.DB, loader Loader, opts Options) (*IOC, error) {
	if opts.Reduce == "" {
		opts.Reduce = beam.MethodMean
	}
	if _, err := beam.ParseMethod(string(opts.Reduce)); err != nil {
		return nil, fmt.Errorf("ioc: %w", err)
	}
	c := &IOC{
		db:       db,
		loader:   loader,
		prefix:   opts.Prefix,
		dataset:  opts.Dataset,
		reduce:   opts.Reduce,
		analysis: opts.Analysis,
		last:     make(map[Channel]Outcome),
		now:      time.Now,
	}

	specs := []pv.Spec{
		{Name: PVImagePathPrimary, Type: pv.TypeString, MaxLength: 255,
			Doc:   "Path to the first image (e.g. a direct beam image)",
			OnPut: c.pathPutter(Primary)},
		{Name: PVImagePathSecondary, Type: pv.TypeString, MaxLength: 255,
			Doc:   "Path to the second image (e.g. direct beam through sample)",
			OnPut: c.pathPutter(Secondary)},
		{Name: PVROIRowMin, Type: pv.TypeInt, Initial: opts.ROI.RowMin, Doc: "Minimum row of the region of interest"},
		{Name: PVROIRowMax, Type: pv.TypeInt, Initial: opts.ROI.RowMax, Doc: "Maximum row of the region of interest"},
		{Name: PVROIColMin, Type: pv.TypeInt, Initial: opts.ROI.ColMin, Doc: "Minimum column of the region of interest"},
		{Name: PVROIColMax, Type: pv.TypeInt, Initial: opts.ROI.ColMax, Doc: "Maximum column of the region of interest"},
		{Name: PVROISize, Type: pv.TypeInt, Initial: opts.ROISize,
			Doc:   "Size of the region of interest around the beam used by beam analysis",
			OnPut: nonNegative},
		{Name: PVRatio, Type: pv.TypeDouble, ReadOnly: true, Doc: "ratio of the secondary / primary beam intensities"},
	}
	for _, ch := range Channels {
		specs = append(specs,
			pv.Spec{Name: string(ch) + ":" + PVTotalCounts, Type: pv.TypeDouble, ReadOnly: true, Doc: "total intensity"},
			pv.Spec{Name: string(ch) + ":" + PVCenterRow, Type: pv.TypeDouble, ReadOnly: true, Doc: "center of mass in units of pixel"},
			pv.Spec{Name: string(ch) + ":" + PVCenterCol, Type: pv.TypeDouble, ReadOnly: true, Doc: "center of mass in units of pixel"},
		)
	}
	for _, s := range specs {
		s.Name = c.Name(s.Name)
		if err := db.Add(s); err != nil {
			return nil, fmt.Errorf("ioc: %w", err)
		}
	}
	return c, nil
}

// Name returns the full PV name for a name relative to the prefix.
func (c *IOC) Name(base string) string { return c.prefix + base }

// PathPV returns the full name of the path PV for ch.
func (c *IOC) PathPV(ch Channel) string {
	if ch == Secondary {
		return c.Name(PVImagePathSecondary)
	}
	return c.Name(PVImagePathPrimary)
}

// ResultPV returns the full name of a result PV (PVTotalCounts, PVCenterRow
// or PVCenterCol) for ch.
func (c *IOC) ResultPV(ch Channel, field string) string {
	return c.Name(string(ch) + ":" + field)
}

// SetAnalysis replaces the analysis constants used by subsequent updates.
func (c *IOC) SetAnalysis(opts beam.Options) {
	c.optMu.Lock()
	c.analysis = opts
	c.optMu.Unlock()
}

// SetReduce replaces the reduction method used by subsequent updates.
func (c *IOC) SetReduce(m beam.Method) error {
	if _, err := beam.ParseMethod(string(m)); err != nil {
		return fmt.Errorf("ioc: %w", err)
	}
	c.optMu.Lock()
	c.reduce = m
	c.optMu.Unlock()
	return nil
}

// OnOutcome registers fn to be called after every path update. Register
// listeners before the IOC starts receiving puts; fn must not block.
func (c *IOC) OnOutcome(fn func(Outcome)) {
	c.lastMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.lastMu.Unlock()
}

// Last returns the most recent outcome for ch.
func (c *IOC) Last(ch Channel) (Outcome, bool) {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	o, ok := c.last[ch]
	return o, ok
}

// Process analyzes the image at path for ch and publishes the results. It is
// what a put to the channel's path PV runs.
func (c *IOC) Process(ctx context.Context, ch Channel, path string) Outcome {
	c.mu.Lock()
	out := c.process(ctx, ch, path)
	c.mu.Unlock()

	c.lastMu.Lock()
	c.last[ch] = out
	listeners := c.listeners
	c.lastMu.Unlock()

	for _, fn := range listeners {
		fn(out)
	}
	return out
}

func (c *IOC) process(ctx context.Context, ch Channel, path string) Outcome {
	out := Outcome{ID: uuid.NewString(), Channel: ch, Path: path, At: c.now()}
	skip := func(reason string, args ...any) Outcome {
		slog.Warn("ioc: skipping image update",
			append([]any{"channel", ch, "path", path, "reason", reason}, args...)...)
		out.Status = StatusSkipped
		out.Reason = reason
		return out
	}

	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		return skip(fmt.Sprintf("file %s does not exist", path))
	}

	arr, err := c.loader.Load(ctx, path, c.dataset)
	if err != nil {
		return skip("load failed", "err", err)
	}

	c.optMu.RLock()
	reduce, analysis := c.reduce, c.analysis
	c.optMu.RUnlock()

	img, err := beam.Reduce(arr, reduce)
	if err != nil {
		return skip("reduce failed", "err", err)
	}

	roi := beam.ROI{
		RowMin: c.db.Int(c.Name(PVROIRowMin)),
		RowMax: c.db.Int(c.Name(PVROIRowMax)),
		ColMin: c.db.Int(c.Name(PVROIColMin)),
		ColMax: c.db.Int(c.Name(PVROIColMax)),
	}
	if sub, ok := roi.Apply(img); ok {
		out.Result, err = analysis.Analyze(sub, c.db.Int(c.Name(PVROISize)))
		if err != nil {
			return skip("analysis failed", "err", err)
		}
	}

	slog.Debug("ioc: beam analysed",
		"channel", ch,
		"center_of_mass", out.Result.CenterOfMass,
		"total_counts", out.Result.TotalCounts,
	)

	c.publish(ch, out.Result)
	out.Status = StatusAnalyzed
	out.Ratio, out.RatioUpdated = c.computeRatio()
	return out
}

func (c *IOC) publish(ch Channel, res beam.Result) {
	fields := []struct {
		name string
		v    float64
	}{
		{PVTotalCounts, res.TotalCounts},
		{PVCenterRow, res.CenterOfMass.Row},
		{PVCenterCol, res.CenterOfMass.Col},
	}
	for _, f := range fields {
		if _, err := c.db.Write(c.ResultPV(ch, f.name), f.v); err != nil {
			slog.Error("ioc: publish failed", "channel", ch, "field", f.name, "err", err)
		}
	}
}

// computeRatio publishes secondary / primary total counts when both are
// positive and otherwise holds the current ratio.
func (c *IOC) computeRatio() (float64, bool) {
	p := c.db.Float(c.ResultPV(Primary, PVTotalCounts))
	s := c.db.Float(c.ResultPV(Secondary, PVTotalCounts))
	r, ok := beam.Ratio(p, s)
	if !ok {
		return c.db.Float(c.Name(PVRatio)), false
	}
	if _, err := c.db.Write(c.Name(PVRatio), r); err != nil {
		slog.Error("ioc: publish ratio failed", "err", err)
		return c.db.Float(c.Name(PVRatio)), false
	}
	return r, true
}

func (c *IOC) pathPutter(ch Channel) pv.PutHook {
	return func(ctx context.Context, v any) error {
		c.Process(ctx, ch, v.(string))
		return nil
	}
}

func nonNegative(_ context.Context, v any) error {
	if v.(int64) < 0 {
		return fmt.Errorf("%w: %d must not be negative", pv.ErrInvalidValue, v)
	}
	return nil
}
