package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/sharesync/internal/transfer"
	"github.com/schollz/progressbar/v3"
)

// progressObserver draws one progress bar per transfer.
type progressObserver struct {
	transfer.NopObserver
	w    io.Writer
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressObserver) newBar(s transfer.Snapshot) *progressbar.ProgressBar {
	verb := "sending"
	if s.Direction == transfer.Incoming {
		verb = "receiving"
	}
	return progressbar.NewOptions64(s.Size,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb, s.Name)),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
	)
}

func (p *progressObserver) TransferStarted(s transfer.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[s.ID] = p.newBar(s)
}

func (p *progressObserver) TransferProgress(s transfer.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[s.ID]; ok {
		_ = bar.Set64(s.Bytes)
	}
}

func (p *progressObserver) TransferCompleted(s transfer.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[s.ID]; ok {
		_ = bar.Finish()
		delete(p.bars, s.ID)
	}
}

func (p *progressObserver) TransferFailed(s transfer.Snapshot, _ error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bar, ok := p.bars[s.ID]; ok {
		_ = bar.Exit()
		delete(p.bars, s.ID)
	}
}
