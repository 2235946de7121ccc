package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"redlight/internal/logging"
	"redlight/internal/timeutil"
)

// PipelineOptions holds the optional parts of a DetectionPipeline
type PipelineOptions struct {
	Annotator FrameAnnotator
	Slot      *FrameSlot
	Clock     timeutil.Clock
	Log       logs.Log
}

// DetectionPipeline reads frames from one source, processes them in order
// and publishes the results
type DetectionPipeline struct {
	sourceID  string
	source    VideoSource
	processor *Processor
	eventBus  *EventBus
	annotator FrameAnnotator
	slot      *FrameSlot
	clock     timeutil.Clock
	log       logs.Log

	mu     sync.RWMutex
	status StatusEvent
}

// NewDetectionPipeline creates a pipeline for a single source
func NewDetectionPipeline(sourceID string, source VideoSource, processor *Processor, eventBus *EventBus, opts PipelineOptions) *DetectionPipeline {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DetectionPipeline{
		sourceID:  sourceID,
		source:    source,
		processor: processor,
		eventBus:  eventBus,
		annotator: opts.Annotator,
		slot:      opts.Slot,
		clock:     clock,
		log:       logging.Component(opts.Log, "Pipeline"),
		status:    StatusEvent{SourceID: sourceID, Status: StatusStarting},
	}
}

// Status returns the latest status event
func (p *DetectionPipeline) Status() StatusEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *DetectionPipeline) setStatus(status Status, message string) {
	ev := StatusEvent{SourceID: p.sourceID, Status: status, Message: message, Timestamp: p.clock.Now()}
	p.mu.Lock()
	p.status = ev
	p.mu.Unlock()
	if p.eventBus != nil {
		p.eventBus.PublishStatus(ev)
	}
}

// Run processes frames until the source ends, fails for good, or ctx is
// cancelled. Cancellation is honoured between frames only, so the frame in
// flight always completes. A source that cannot be opened or keeps failing
// yields an error wrapping ErrSourceUnavailable.
func (p *DetectionPipeline) Run(ctx context.Context) error {
	p.setStatus(StatusStarting, "")

	if err := p.open(ctx); err != nil {
		if ctx.Err() != nil {
			p.setStatus(StatusStopped, "")
			return nil
		}
		p.log.Errorf("Source %s unavailable: %v", p.sourceID, err)
		p.setStatus(StatusSourceUnavailable, err.Error())
		return err
	}
	defer p.source.Close()

	p.setStatus(StatusRunning, "")
	p.log.Infof("Processing loop started for source %s (fps %.1f, live %v)", p.sourceID, p.source.FPS(), p.source.Live())

	settings := p.processor.Settings()
	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			p.setStatus(StatusStopped, "")
			return nil
		}

		started := p.clock.Now()
		frame, err := p.source.ReadFrame(ctx)
		if errors.Is(err, ErrEndOfStream) {
			p.log.Infof("Source %s finished", p.sourceID)
			p.setStatus(StatusFinished, "")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				p.setStatus(StatusStopped, "")
				return nil
			}
			consecutiveErrors++
			p.log.Warnf("Frame read error %d/%d on %s: %v", consecutiveErrors, settings.MaxConsecutiveErrors, p.sourceID, err)
			if consecutiveErrors >= settings.MaxConsecutiveErrors {
				err = fmt.Errorf("%w: %d consecutive read errors: %v", ErrSourceUnavailable, consecutiveErrors, err)
				p.log.Errorf("Giving up on %s: %v", p.sourceID, err)
				p.setStatus(StatusSourceUnavailable, err.Error())
				return err
			}
			if err := p.clock.Sleep(ctx, settings.ReadBackoff); err != nil {
				p.setStatus(StatusStopped, "")
				return nil
			}
			continue
		}
		consecutiveErrors = 0

		p.processFrame(ctx, frame)
		settings = p.processor.Settings()

		if !p.source.Live() && p.source.FPS() > 0 {
			frameTime := time.Duration(float64(time.Second) / p.source.FPS())
			if wait := frameTime - p.clock.Since(started); wait > 0 {
				if err := p.clock.Sleep(ctx, wait); err != nil {
					p.setStatus(StatusStopped, "")
					return nil
				}
			}
		}
	}
}

func (p *DetectionPipeline) open(ctx context.Context) error {
	settings := p.processor.Settings()
	retries := max(settings.OpenRetries, 1)

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = p.source.Open(ctx); err == nil {
			return nil
		}
		p.log.Warnf("Failed to open %s (attempt %d/%d): %v", p.sourceID, attempt, retries, err)
		if attempt < retries {
			if sleepErr := p.clock.Sleep(ctx, settings.OpenBackoff); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return fmt.Errorf("%w: %d open attempts failed: %v", ErrSourceUnavailable, retries, err)
}

func (p *DetectionPipeline) processFrame(ctx context.Context, frame *FrameData) {
	if frame.SourceID == "" {
		frame.SourceID = p.sourceID
	}

	// Bookkeeping for a started frame is never interrupted
	result := p.processor.Process(context.WithoutCancel(ctx), frame)

	if progress, ok := p.source.Progress(); ok {
		result.Progress = &progress
	}

	if p.annotator != nil {
		data, err := p.annotator.Annotate(frame, result)
		if err != nil {
			p.log.Warnf("Annotation failed on frame %d: %v", frame.Seq, err)
		} else {
			result.ImageData = data
		}
	}
	if p.slot != nil {
		if len(result.ImageData) > 0 {
			p.slot.Put(frame.Seq, result.ImageData)
		} else {
			p.slot.Put(frame.Seq, frame.Data)
		}
	}

	if p.eventBus != nil {
		p.eventBus.Publish(result)
	}

	if frame.Seq%100 == 0 {
		p.log.Infof("Source %s: frame %d, %.1f fps, %d tracks, %d violations so far",
			p.sourceID, frame.Seq, result.Stats.FPS, len(result.Tracks), result.Stats.ViolationsTotal)
	}
}
