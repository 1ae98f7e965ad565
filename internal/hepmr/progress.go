package hepmr

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/processor"
)

// progressObserver shows a progress bar of the leaves mapped in the current period.
type progressObserver struct {
	processor.NoopObserver
	out    io.Writer
	bar    *progressbar.ProgressBar
	failed int
}

func newProgressObserver(out io.Writer) *progressObserver {
	return &progressObserver{out: out}
}

func (o *progressObserver) OnSubmitted(period string, leaves int) {
	o.failed = 0
	o.bar = progressbar.NewOptions(leaves,
		progressbar.OptionSetWriter(o.out),
		progressbar.OptionSetDescription(period),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (o *progressObserver) OnLeafDone(sample *catalog.Sample, err error) {
	if o.bar == nil {
		return
	}
	if err != nil {
		o.failed++
		o.bar.Describe(fmt.Sprintf("%s (%d failed)", sample.Period(), o.failed))
	}
	_ = o.bar.Add(1)
}
