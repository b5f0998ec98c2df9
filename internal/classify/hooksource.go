package classify

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"

	"github.com/lavdgo/lavdgo/internal/errdom"
	"github.com/lavdgo/lavdgo/internal/pertask"
)

// rawSample is the fixed C-ABI layout a BPF tracepoint/kprobe program
// would write into the perf event array: one record per observed hook,
// little-endian, no padding beyond what the compiler inserts for the
// uint64 timestamp fields.
type rawSample struct {
	NowNs          uint64
	FramePresentNs uint64
	Task           uint64
	TGID           uint32
	Kind           uint8
	Lane           uint8
	Priority       uint8
	RealtimeClass  uint8
}

// BPFHookSource is the production HookSource: it loads a compiled BPF
// object, attaches it, and decodes each perf-event sample into a
// RawHookEvent. It is grounded on the loader/perf-reader split found in
// a cilium/ebpf-based collector: CanLoad/TryLoad gate on whether the
// kernel can run the program at all, and the reader loop below mirrors
// opening a perf.Reader over the program's event map and decoding each
// record's RawSample with encoding/binary.
type BPFHookSource struct {
	coll   *ebpf.Collection
	links  []link.Link
	reader *perf.Reader

	events chan RawHookEvent
	done   chan struct{}
	once   sync.Once
	closeErr error
}

// BPFHookSourceConfig names the object file and map/program symbols a
// BPFHookSource attaches. The object file itself is built out of band
// (a CO-RE BPF toolchain, not this Go module) and is not a Non-goal
// this repository tries to replace.
type BPFHookSourceConfig struct {
	ObjectPath string
	MapName    string
	ProgramNames []string
	PerCPUBufferPages int
}

// DefaultBPFHookSourceConfig returns sane defaults for the events map
// name and per-CPU ring size.
func DefaultBPFHookSourceConfig(objectPath string) BPFHookSourceConfig {
	return BPFHookSourceConfig{
		ObjectPath:        objectPath,
		MapName:           "hook_events",
		PerCPUBufferPages: 8,
	}
}

// NewBPFHookSource loads cfg.ObjectPath, attaches every program it
// names, and begins decoding the named perf-event map into RawHookEvent
// values. It returns an InfrastructureFailure-coded error if the
// collection cannot be loaded or a program cannot be attached -- the
// caller is expected to fall back to a simulated source in that case,
// exactly as a Loader.TryLoad failure would.
func NewBPFHookSource(cfg BPFHookSourceConfig) (*BPFHookSource, error) {
	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, errdom.Wrap(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, errdom.Wrap(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", err)
	}

	h := &BPFHookSource{
		coll:   coll,
		events: make(chan RawHookEvent, 1024),
		done:   make(chan struct{}),
	}

	for _, name := range cfg.ProgramNames {
		prog, ok := coll.Programs[name]
		if !ok {
			h.teardown()
			return nil, errdom.New(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", fmt.Sprintf("program %q not found in collection", name))
		}
		lk, err := link.AttachTracing(link.TracingOptions{Program: prog})
		if err != nil {
			h.teardown()
			return nil, errdom.Wrap(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", err)
		}
		h.links = append(h.links, lk)
	}

	m, ok := coll.Maps[cfg.MapName]
	if !ok {
		h.teardown()
		return nil, errdom.New(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", fmt.Sprintf("map %q not found in collection", cfg.MapName))
	}
	rd, err := perf.NewReader(m, cfg.PerCPUBufferPages*4096)
	if err != nil {
		h.teardown()
		return nil, errdom.Wrap(errdom.CodeInfrastructureFailure, "classify.NewBPFHookSource", err)
	}
	h.reader = rd

	go h.readLoop()
	return h, nil
}

func (h *BPFHookSource) readLoop() {
	defer close(h.events)
	for {
		record, err := h.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return
			}
			continue
		}
		if record.LostSamples > 0 {
			continue
		}
		var raw rawSample
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &raw); err != nil {
			continue
		}
		select {
		case h.events <- decodeRawSample(raw):
		case <-h.done:
			return
		}
	}
}

func decodeRawSample(raw rawSample) RawHookEvent {
	return RawHookEvent{
		Kind:           HookKind(raw.Kind),
		Task:           pertask.ID(raw.Task),
		TGID:           raw.TGID,
		NowNs:          raw.NowNs,
		Lane:           pertask.InputLane(raw.Lane),
		Priority:       OSPriorityClass(raw.Priority),
		RealtimeClass:  raw.RealtimeClass != 0,
		FramePresentNs: raw.FramePresentNs,
	}
}

func (h *BPFHookSource) Events() <-chan RawHookEvent { return h.events }

func (h *BPFHookSource) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.closeErr = h.teardown()
	})
	return h.closeErr
}

func (h *BPFHookSource) teardown() error {
	var err error
	if h.reader != nil {
		if cerr := h.reader.Close(); cerr != nil {
			err = cerr
		}
	}
	for _, lk := range h.links {
		lk.Close()
	}
	if h.coll != nil {
		h.coll.Close()
	}
	return err
}
