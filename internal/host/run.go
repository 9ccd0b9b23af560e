package host

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/woxQAQ/l3x-host/internal/audio"
	"github.com/woxQAQ/l3x-host/internal/bridge"
	"github.com/woxQAQ/l3x-host/internal/fileexchange"
	"github.com/woxQAQ/l3x-host/internal/guest"
	"github.com/woxQAQ/l3x-host/internal/wasm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run loads target, instantiates it against a fresh bridge and drives its
// frame export until ctx is done, the frame limit is reached or a guest call
// fails. A Host runs one guest at a time; the download server serves the
// first run only.
func (h *Host) Run(ctx context.Context, target string) error {
	g, err := h.guests.Resolve(ctx, target)
	if err != nil {
		return err
	}

	b := bridge.New(bridge.Options{
		Files: fileexchange.Config{
			Classifier: fileexchange.Classifier{
				Primary:   h.cfg.Files.PrimaryExt,
				Secondary: h.cfg.Files.SecondaryExt,
			},
			Picker: h.picker,
			Sink:   h.sink,
		},
		Synth: h.mixer,
		Pool: audio.PoolConfig{
			MaxGain:    h.cfg.Audio.MaxGain,
			WarnVoices: h.cfg.Audio.WarnVoices,
		},
	}, h.logger)
	defer b.Close()

	instanceConfig := g.InstanceConfig(b)
	instanceConfig.Stdout = h.stdout
	instanceConfig.Stderr = h.stderr

	inst, err := h.instances.Instantiate(ctx, instanceConfig)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inst.Close(context.Background()); cerr != nil {
			h.logger.Warn("Failed to close guest instance", zap.Error(cerr))
		}
	}()

	h.logger.Info("Running guest",
		zap.String("name", g.Name()),
		zap.String("version", g.Version()),
		zap.String("instance_id", inst.ID),
		zap.String("bridge_id", b.ID),
	)

	eg, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	eg.Go(func() error {
		defer close(done)
		return h.frameLoop(gctx, g, b, inst)
	})

	if h.server != nil {
		server, listener := h.server, h.listener
		h.server = nil

		eg.Go(func() error {
			h.logger.Info("Serving downloads", zap.String("addr", listener.Addr().String()))
			if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(sctx)
		})
	}

	err = eg.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		h.logger.Info("Guest run interrupted", zap.String("name", g.Name()))
		return nil
	}
	return err
}

// frameLoop dispatches host events, calls the guest's frame export and
// renders one frame of audio, once per tick.
func (h *Host) frameLoop(ctx context.Context, g *guest.Guest, b *bridge.Context, inst *wasm.Instance) error {
	frame := g.Manifest.Wasm.Frame
	if !inst.HasExport(frame) {
		h.logger.Info("Guest has no frame export, run finished after start",
			zap.String("frame", frame),
		)
		return nil
	}

	fps := h.cfg.Frame.FPS
	samples := h.mixer.SampleRate() / fps
	out := make([]float32, samples)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for n := uint64(0); h.cfg.Frame.Limit == 0 || n < uint64(h.cfg.Frame.Limit); n++ {
		if applied := b.Dispatch(); applied > 0 {
			h.logger.Debug("Applied host events", zap.Int("count", applied), zap.Uint64("frame", n))
		}

		if _, err := inst.Call(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Error("Guest frame failed", zap.Uint64("frame", n), zap.Error(err))
			return &FrameError{Frame: n, Err: err}
		}

		if h.recorder != nil {
			if err := h.recorder.Capture(h.mixer, samples); err != nil {
				return err
			}
		} else {
			h.mixer.Render(out)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	h.logger.Info("Frame limit reached", zap.Int("frames", h.cfg.Frame.Limit))
	return nil
}
