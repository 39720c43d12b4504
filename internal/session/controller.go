// Package session drives the lifecycle of one editing session: the selected
// input file, parameter values, the remote job and its polling, and the
// preview and result artifacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/desolidify/internal/artifact"
	"github.com/seantiz/desolidify/internal/client"
	"github.com/seantiz/desolidify/internal/model"
	"github.com/seantiz/desolidify/internal/params"
	"github.com/seantiz/desolidify/internal/periodic"
)

// Status messages.
const (
	MsgUploading  = "Uploading…"
	MsgQueued     = "Queued."
	MsgFetching   = "Fetching result…"
	MsgComplete   = "Complete."
	MsgPreviewing = "Generating preview…"
	MsgPreview    = "Preview ready."
	MsgCancelled  = "Cancelled."
	MsgLost       = "lost contact with server"
)

const defaultPollInterval = 1200 * time.Millisecond

var (
	// ErrNoFile is returned when an operation needs an input file and none is selected.
	ErrNoFile = errors.New("no input file selected")

	// ErrBusy is returned while a submit or preview request is outstanding.
	ErrBusy = errors.New("another request is in progress")

	// ErrJobActive is returned when submitting while a job is queued or running.
	ErrJobActive = errors.New("a job is already queued or running")

	// ErrNoPendingResult is returned by FetchResult when there is no finished
	// job still missing its result.
	ErrNoPendingResult = errors.New("no finished job awaiting its result")

	// ErrSuperseded is returned when a cancel or a new file invalidated a
	// request while it was in flight. Its outcome was discarded.
	ErrSuperseded = errors.New("request superseded")

	// ErrUnknownPreset is returned by SelectPreset for a name the server did not offer.
	ErrUnknownPreset = errors.New("unknown preset")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// JobClient is the subset of the remote job service the controller uses.
type JobClient interface {
	ParamSpec(ctx context.Context) (model.ParamSpec, error)
	Presets(ctx context.Context) (model.PresetSet, error)
	CreateJob(ctx context.Context, file client.Upload, values model.ParamValues, preset string) (string, error)
	JobStatus(ctx context.Context, jobID string) (model.JobStatus, error)
	JobResult(ctx context.Context, jobID string) ([]byte, error)
	CancelAll(ctx context.Context) error
	Preview(ctx context.Context, file client.Upload, values model.ParamValues) ([]byte, error)
}

// Options configures a Controller.
type Options struct {
	PollInterval time.Duration
	// MaxPollFailures moves a job to error after this many consecutive failed
	// polls. Zero retries indefinitely.
	MaxPollFailures int
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Job      model.Job             `json:"job"`
	FileName string                `json:"file_name,omitempty"`
	Preset   string                `json:"preset,omitempty"`
	Presets  []string              `json:"presets"`
	Params   model.ParamValues     `json:"params"`
	Busy     bool                  `json:"busy"`
	Slots    map[model.Slot]string `json:"slots"`
}

// Controller is the session state machine. It is safe for concurrent use.
type Controller struct {
	client JobClient
	store  *artifact.Store
	broker *Broker
	logger *slog.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	mu       sync.Mutex
	spec     model.ParamSpec
	presets  model.PresetSet
	preset   string
	values   model.ParamValues
	fileName string
	job      model.Job
	busy     bool
	gen      uint64
	poll     *poller
	closed   bool
}

// poller tracks the polling of one job. Fields other than task are guarded by
// the controller mutex.
type poller struct {
	task     *periodic.Task
	jobID    string
	seq      uint64
	applied  uint64
	failures int
	done     bool
}

// New creates a controller around the given job client and artifact store.
// Artifact changes are forwarded to the controller's event broker.
func New(jc JobClient, store *artifact.Store, opts Options, logger *slog.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		client:  jc,
		store:   store,
		broker:  NewBroker(),
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		spec:    model.ParamSpec{},
		presets: model.PresetSet{},
		values:  model.ParamValues{},
		job:     model.Job{State: model.StateIdle},
	}
	c.unsub = store.Subscribe(func(ch artifact.Change) {
		c.broker.Publish(Event{Type: EventArtifact, Slot: ch.Slot, Handle: ch.Handle})
	})
	return c
}

// Events returns the controller's event broker.
func (c *Controller) Events() *Broker {
	return c.broker
}

// Store returns the artifact store the controller writes to.
func (c *Controller) Store() *artifact.Store {
	return c.store
}

// Init fetches the parameter specification and presets concurrently, selects
// the first preset in name order and composes the parameter values. Fetch
// failures are logged and leave the controller usable with what succeeded.
func (c *Controller) Init(ctx context.Context) {
	var (
		wg         sync.WaitGroup
		spec       model.ParamSpec
		presets    model.PresetSet
		specErr    error
		presetsErr error
	)
	wg.Go(func() { spec, specErr = c.client.ParamSpec(ctx) })
	wg.Go(func() { presets, presetsErr = c.client.Presets(ctx) })
	wg.Wait()

	if specErr != nil {
		c.logger.Warn("failed to fetch parameter spec", "error", specErr)
		spec = model.ParamSpec{}
	}
	if presetsErr != nil {
		c.logger.Warn("failed to fetch presets", "error", presetsErr)
		presets = model.PresetSet{}
	}

	c.mu.Lock()
	c.spec = spec
	c.presets = presets
	c.preset = params.FirstPreset(presets)
	c.values = params.Compose(spec, presets, c.preset, nil)
	c.mu.Unlock()

	c.logger.Info("session initialized", "params", len(spec), "presets", len(presets), "preset", c.Snapshot().Preset)
}

// Spec returns the parameter specification fetched by Init.
func (c *Controller) Spec() model.ParamSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// Presets returns the presets fetched by Init.
func (c *Controller) Presets() model.PresetSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presets
}

// Params returns a copy of the current parameter values.
func (c *Controller) Params() model.ParamValues {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Clone()
}

// SelectPreset recomputes the parameter values as defaults overlaid with the
// named preset. Previous edits are discarded.
func (c *Controller) SelectPreset(name string) error {
	c.mu.Lock()
	if _, ok := c.presets[name]; !ok && name != "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	c.preset = name
	c.values = params.Compose(c.spec, c.presets, name, nil)
	c.mu.Unlock()

	c.logger.Info("preset selected", "preset", name)
	return nil
}

// SetParams coerces edits against the spec and merges them into the current
// values.
func (c *Controller) SetParams(edits model.ParamValues) (model.ParamValues, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := params.Apply(c.spec, c.values, edits)
	if err != nil {
		return nil, err
	}
	c.values = next
	return next.Clone(), nil
}

// SelectFile installs data as the input artifact, drops the preview and
// result, stops any polling and resets the job.
func (c *Controller) SelectFile(ctx context.Context, name string, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}

	// Store revokes the previous input even when it fails, so the session
	// is reset either way.
	handle, err := c.store.Store(ctx, model.SlotInput, data)

	c.gen++
	c.stopPollLocked()
	c.store.Release(model.SlotPreview)
	c.store.Release(model.SlotResult)
	if err != nil {
		c.fileName = ""
		c.job = model.Job{State: model.StateIdle, Message: err.Error()}
		c.publishStatusLocked()
		c.logger.Error("store input file", "file", name, "error", err)
		return "", fmt.Errorf("store input: %w", err)
	}
	c.fileName = name
	c.job = model.Job{State: model.StateIdle}
	c.publishStatusLocked()

	c.logger.Info("input file selected", "file", name, "bytes", len(data), "handle", handle)
	return handle, nil
}

// Submit uploads the input with the current parameters and starts polling
// the created job. The guard order is: no file, busy, job already active.
// Guard failures make no network call and change no state.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	input, ok := c.store.Get(model.SlotInput)
	if !ok {
		c.mu.Unlock()
		return ErrNoFile
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.job.State.Active() {
		c.mu.Unlock()
		return ErrJobActive
	}

	c.busy = true
	gen := c.gen
	c.stopPollLocked()
	c.job = model.Job{State: model.StateQueued, Message: MsgUploading}
	values := c.values.Clone()
	preset := c.preset
	name := c.fileName
	c.publishStatusLocked()
	c.mu.Unlock()

	jobID, err := c.createJob(ctx, input, name, values, preset)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if c.gen != gen || c.closed {
		c.logger.Info("discarding superseded submit", "job_id", jobID)
		c.publishStatusLocked()
		return ErrSuperseded
	}
	if err != nil {
		c.logger.Warn("job submission failed", "error", err)
		c.transitionLocked(model.StateError, err.Error())
		jobsTotal.WithLabelValues(string(model.StateError)).Inc()
		c.publishStatusLocked()
		return err
	}

	c.job.ID = jobID
	c.transitionLocked(model.StateRunning, MsgQueued)
	c.startPollLocked(jobID)
	c.publishStatusLocked()

	c.logger.Info("job submitted", "job_id", jobID, "preset", preset)
	return nil
}

func (c *Controller) createJob(ctx context.Context, input, name string, values model.ParamValues, preset string) (string, error) {
	data, err := c.store.Open(ctx, input)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	return c.client.CreateJob(ctx, client.Upload{Name: name, Data: data}, values, preset)
}

// RunPreview requests a coarse preview of the input with fast mode forced.
// It shares the busy guard with Submit but leaves an active job untouched.
func (c *Controller) RunPreview(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	input, ok := c.store.Get(model.SlotInput)
	if !ok {
		c.mu.Unlock()
		return ErrNoFile
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}

	c.busy = true
	gen := c.gen
	values := params.ForPreview(c.values)
	name := c.fileName
	if !c.job.State.Active() {
		c.job.Message = MsgPreviewing
	}
	c.publishStatusLocked()
	c.mu.Unlock()

	data, err := c.store.Open(ctx, input)
	if err == nil {
		data, err = c.client.Preview(ctx, client.Upload{Name: name, Data: data}, values)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false

	if c.gen != gen || c.closed {
		c.publishStatusLocked()
		return ErrSuperseded
	}
	if err != nil {
		previewsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("preview failed", "error", err)
		if c.job.State.Active() {
			c.publishStatusLocked()
			return err
		}
		c.transitionLocked(model.StateError, err.Error())
		c.publishStatusLocked()
		return err
	}

	if _, err := c.store.Store(ctx, model.SlotPreview, data); err != nil {
		c.publishStatusLocked()
		return fmt.Errorf("store preview: %w", err)
	}
	previewsTotal.WithLabelValues("ok").Inc()
	switch {
	case c.job.State == model.StateError:
		c.transitionLocked(model.StateIdle, MsgPreview)
	case !c.job.State.Active():
		c.job.Message = MsgPreview
	}
	c.publishStatusLocked()
	return nil
}

// Cancel asks the server to cancel all jobs. On success polling stops, the
// preview and result are dropped and the session returns to idle. On failure
// only the message changes.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	err := c.client.CancelAll(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warn("cancel failed", "error", err)
		c.job.Message = err.Error()
		c.publishStatusLocked()
		return err
	}

	c.gen++
	wasActive := c.job.State.Active()
	c.stopPollLocked()
	c.store.Release(model.SlotPreview)
	c.store.Release(model.SlotResult)
	c.job = model.Job{State: model.StateIdle, Message: MsgCancelled}
	c.publishStatusLocked()
	if wasActive {
		jobsTotal.WithLabelValues("cancelled").Inc()
	}

	c.logger.Info("jobs cancelled")
	return nil
}

// FetchResult retries the result download for a finished job whose first
// fetch failed.
func (c *Controller) FetchResult(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if _, ok := c.store.Get(model.SlotResult); ok || c.job.State != model.StateFinished || c.job.ID == "" {
		c.mu.Unlock()
		return ErrNoPendingResult
	}
	c.busy = true
	jobID := c.job.ID
	gen := c.gen
	c.job.Message = MsgFetching
	c.publishStatusLocked()
	c.mu.Unlock()

	err := c.fetchResult(ctx, jobID, gen)

	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	return err
}

// Snapshot returns a copy of the session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Job:      c.job,
		FileName: c.fileName,
		Preset:   c.preset,
		Presets:  params.PresetNames(c.presets),
		Params:   c.values.Clone(),
		Busy:     c.busy,
		Slots:    c.store.Snapshot(),
	}
}

// Job returns the current job state.
func (c *Controller) Job() model.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// Polling reports whether a status poller is running.
func (c *Controller) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poll != nil && !c.poll.task.Stopped()
}

// Close stops polling, releases every artifact slot and closes the event
// broker. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	p := c.poll
	c.stopPollLocked()
	for _, slot := range model.Slots {
		c.store.Release(slot)
	}
	c.mu.Unlock()

	c.cancel()
	if p != nil {
		p.task.Wait()
	}
	c.unsub()
	c.broker.Close()
	c.logger.Info("session closed")
}

func (c *Controller) startPollLocked(jobID string) {
	p := &poller{jobID: jobID}
	c.poll = p
	p.task = periodic.Start(c.ctx, c.opts.PollInterval, func(ctx context.Context) {
		c.pollTick(ctx, p)
	}, periodic.Options{Immediate: true, Concurrent: true})
}

func (c *Controller) stopPollLocked() {
	if c.poll == nil {
		return
	}
	c.poll.done = true
	c.poll.task.Stop()
	c.poll = nil
}

// pollTick performs one status request. Responses are applied only if they
// belong to the current poller and are newer than the last applied response.
func (c *Controller) pollTick(ctx context.Context, p *poller) {
	c.mu.Lock()
	if c.poll != p || p.done {
		c.mu.Unlock()
		return
	}
	p.seq++
	seq := p.seq
	c.mu.Unlock()

	st, err := c.client.JobStatus(ctx, p.jobID)

	c.mu.Lock()
	if c.poll != p || p.done || seq <= p.applied {
		c.mu.Unlock()
		pollTicks.WithLabelValues(pollStale).Inc()
		return
	}

	if err != nil {
		pollTicks.WithLabelValues(pollError).Inc()
		p.failures++
		if c.opts.MaxPollFailures > 0 && p.failures >= c.opts.MaxPollFailures {
			c.stopPollLocked()
			c.transitionLocked(model.StateError, MsgLost)
			jobsTotal.WithLabelValues(string(model.StateError)).Inc()
			c.publishStatusLocked()
			c.mu.Unlock()
			c.logger.Warn("giving up on job after repeated poll failures", "job_id", p.jobID, "failures", p.failures, "error", err)
			return
		}
		c.mu.Unlock()
		c.logger.Debug("job status poll failed", "job_id", p.jobID, "error", err)
		return
	}

	pollTicks.WithLabelValues(pollOK).Inc()
	p.applied = seq
	p.failures = 0
	c.job.ServerState = st.State

	switch st.State {
	case model.ServerStateFinished:
		c.stopPollLocked()
		c.transitionLocked(model.StateFinished, MsgFetching)
		c.job.Progress = 1
		gen := c.gen
		c.publishStatusLocked()
		c.mu.Unlock()

		c.logger.Info("job finished", "job_id", p.jobID)
		if err := c.fetchResult(c.ctx, p.jobID, gen); err != nil {
			c.logger.Warn("result fetch failed", "job_id", p.jobID, "error", err)
		}
		return

	case model.ServerStateError:
		c.stopPollLocked()
		msg := st.Message
		if msg == "" {
			msg = st.State
		}
		c.transitionLocked(model.StateError, msg)
		c.job.Progress = st.Progress
		jobsTotal.WithLabelValues(string(model.StateError)).Inc()
		c.publishStatusLocked()
		c.mu.Unlock()
		c.logger.Warn("job failed", "job_id", p.jobID, "message", msg)
		return

	default:
		msg := st.Message
		if msg == "" {
			msg = st.State
		}
		c.transitionLocked(model.StateRunning, msg)
		c.job.Progress = st.Progress
		c.publishStatusLocked()
		c.mu.Unlock()
	}
}

// fetchResult downloads and stores the result of a finished job. Outcomes for
// a superseded generation are discarded. The state stays finished on failure.
func (c *Controller) fetchResult(ctx context.Context, jobID string, gen uint64) error {
	data, err := c.client.JobResult(ctx, jobID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.closed || c.job.ID != jobID {
		return ErrSuperseded
	}
	if err != nil {
		c.job.Message = err.Error()
		c.publishStatusLocked()
		return err
	}

	if _, err := c.store.Store(ctx, model.SlotResult, data); err != nil {
		c.job.Message = err.Error()
		c.publishStatusLocked()
		return fmt.Errorf("store result: %w", err)
	}
	c.job.Message = MsgComplete
	jobsTotal.WithLabelValues(string(model.StateFinished)).Inc()
	c.publishStatusLocked()
	c.logger.Info("job result stored", "job_id", jobID, "bytes", len(data))
	return nil
}

// transitionLocked moves the job to state with msg. Invalid transitions are
// logged and applied anyway; the server is authoritative.
func (c *Controller) transitionLocked(state model.JobState, msg string) {
	if !model.ValidTransition(c.job.State, state) {
		c.logger.Warn("unexpected job state transition", "job_id", c.job.ID, "from", c.job.State, "to", state)
	}
	c.job.State = state
	c.job.Message = msg
}

func (c *Controller) publishStatusLocked() {
	_, c.job.HasResult = c.store.Get(model.SlotResult)
	job := c.job
	c.broker.Publish(Event{Type: EventStatus, Job: &job})
}
