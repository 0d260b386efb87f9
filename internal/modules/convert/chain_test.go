package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/nextconvert/silk2mp3/internal/shared/config"
	"github.com/nextconvert/silk2mp3/internal/shared/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeExec dispatches by tool name; unknown tools behave as missing binaries.
type fakeExec struct {
	mu       sync.Mutex
	calls    []tools.Command
	handlers map[string]func(args []string) error
}

func (f *fakeExec) Run(_ context.Context, cmd tools.Command) (*tools.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	h, ok := f.handlers[cmd.Name()]
	if !ok {
		return nil, tools.ErrToolNotFound
	}
	return &tools.Result{}, h(cmd.Args)
}

func (f *fakeExec) toolCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = c.Name()
	}
	return names
}

type bareResolver struct{}

func (bareResolver) Path(tool string) string { return tool }

// writeLast writes payload to the final argument, as ffmpeg does with its output.
func writeLast(payload string) func(args []string) error {
	return func(args []string) error {
		return os.WriteFile(args[len(args)-1], []byte(payload), 0644)
	}
}

type fakeDecoder struct {
	pcm []byte
	err error
}

func (d fakeDecoder) Decode([]byte, int) ([]byte, error) { return d.pcm, d.err }

type stubStrategy struct {
	name  string
	write string
	err   error
	runs  int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Convert(_ context.Context, _, out string) error {
	s.runs++
	if s.write != "" {
		if err := os.WriteFile(out, []byte(s.write), 0644); err != nil {
			return err
		}
	}
	if s.err == nil && s.write == "" {
		// ran "successfully" without producing anything
		return os.WriteFile(out, nil, 0644)
	}
	return s.err
}

func newInput(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func silkBytes() []byte {
	return append([]byte{0x02}, []byte("#!SILK_V3 payload")...)
}

func TestChainConvert(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("stops at first success", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		first := &stubStrategy{name: "first", err: errors.New("boom")}
		second := &stubStrategy{name: "second", write: "mp3"}
		third := &stubStrategy{name: "third", write: "never"}

		c := NewChain([]Strategy{first, second, third}, nil, logger)
		require.NoError(t, c.Convert(ctx, in, out))

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, "mp3", string(data))
		assert.Equal(t, 1, first.runs)
		assert.Equal(t, 0, third.runs)
	})

	t.Run("empty output is never success", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		empty := &stubStrategy{name: "empty"}
		c := NewChain([]Strategy{empty}, nil, logger)

		err := c.Convert(ctx, in, out)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoViableStrategy)
		assert.ErrorIs(t, err, ErrEmptyOutput)
		assert.NoFileExists(t, out)
	})

	t.Run("exhaustion carries the last error", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		c := NewChain([]Strategy{
			&stubStrategy{name: "one", write: "partial", err: errors.New("exit 1")},
			&stubStrategy{name: "two", err: tools.ErrProcessTimeout},
		}, nil, logger)

		err := c.Convert(ctx, in, out)
		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Len(t, exhausted.Attempts, 2)
		assert.ErrorIs(t, err, tools.ErrProcessTimeout)
		assert.NoFileExists(t, out)
	})

	t.Run("missing or empty input fails fast", func(t *testing.T) {
		dir := t.TempDir()
		s := &stubStrategy{name: "one", write: "mp3"}
		c := NewChain([]Strategy{s}, nil, logger)

		err := c.Convert(ctx, filepath.Join(dir, "nope.silk"), filepath.Join(dir, "out.mp3"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, ErrNoViableStrategy)

		empty := newInput(t, dir, "empty.silk", nil)
		err = c.Convert(ctx, empty, filepath.Join(dir, "out.mp3"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, s.runs)
	})

	t.Run("cancelled context stops the chain", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		s := &stubStrategy{name: "one", write: "mp3"}
		c := NewChain([]Strategy{s}, nil, logger)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := c.Convert(cctx, in, filepath.Join(dir, "a.mp3"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, s.runs)
	})
}

func TestDefaultStrategies(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("in-process decode feeds matching pcm format to encoder", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolFFmpeg: func(args []string) error {
				assert.True(t, hasPair(args, "-ar", "24000"))
				assert.True(t, hasPair(args, "-ac", "1"))
				assert.True(t, hasPair(args, "-f", "s16le"))
				assert.FileExists(t, out+".pcm")
				return writeLast("mp3")(args)
			},
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}
		c := NewChain(DefaultStrategies(tb, fakeDecoder{pcm: []byte{1, 2, 3, 4}}), nil, logger)

		require.NoError(t, c.Convert(ctx, in, out))
		assert.Equal(t, []string{tools.ToolFFmpeg}, fx.toolCalls())
		assert.NoFileExists(t, out+".pcm")
	})

	t.Run("worst case runs the documented number of commands", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolSilk2Mp3: func([]string) error { return errors.New("exit 1") },
			tools.ToolSilkDecoder: func(args []string) error {
				return os.WriteFile(args[1], []byte("decoded"), 0644)
			},
			tools.ToolFFmpeg: func([]string) error { return errors.New("exit 1") },
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}
		c := NewChain(DefaultStrategies(tb, fakeDecoder{pcm: []byte{1, 2}}), nil, logger)

		err := c.Convert(ctx, in, out)
		require.ErrorIs(t, err, ErrNoViableStrategy)
		assert.Len(t, fx.toolCalls(), config.CommandsPerFile)
	})

	t.Run("falls through to direct transcode", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.amr", []byte("#!AMR\n..."))
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolFFmpeg: writeLast("mp3"),
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}
		c := NewChain(DefaultStrategies(tb, fakeDecoder{}), nil, logger)

		require.NoError(t, c.Convert(ctx, in, out))
		// not SILK: in-process skipped; silk2mp3 and both decoder paths missing
		assert.Equal(t, []string{
			tools.ToolSilk2Mp3,
			tools.ToolSilkDecoder,
			tools.ToolSilkDecoder,
			tools.ToolFFmpeg,
		}, fx.toolCalls())
	})

	t.Run("raw decode shares sample rate with encoder", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolSilkDecoder: func(args []string) error {
				assert.True(t, hasPair(args, "-Fs_API", "24000"))
				return os.WriteFile(args[1], []byte("pcm"), 0644)
			},
			tools.ToolFFmpeg: func(args []string) error {
				assert.True(t, hasPair(args, "-ar", "24000"))
				return writeLast("mp3")(args)
			},
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}
		s := &RawDecodeStrategy{Toolbox: tb}

		require.NoError(t, s.Convert(ctx, in, out))
		assert.NoFileExists(t, out+".pcm")
	})

	t.Run("intermediates removed on failure", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolSilkDecoder: func(args []string) error {
				return os.WriteFile(args[1], []byte("wav"), 0644)
			},
			tools.ToolFFmpeg: func([]string) error {
				return &tools.ExitError{Tool: "ffmpeg", Code: 1}
			},
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}

		err := (&ContainerDecodeStrategy{Toolbox: tb}).Convert(ctx, in, out)
		assert.ErrorIs(t, err, tools.ErrProcessExit)
		assert.NoFileExists(t, out+".wav")

		err = (&InProcessStrategy{Toolbox: tb, Decoder: fakeDecoder{pcm: []byte{1}}}).Convert(ctx, in, out)
		assert.ErrorIs(t, err, tools.ErrProcessExit)
		assert.NoFileExists(t, out+".pcm")
	})

	t.Run("empty decoder output stops the stage", func(t *testing.T) {
		dir := t.TempDir()
		in := newInput(t, dir, "a.silk", silkBytes())
		out := filepath.Join(dir, "a.mp3")

		fx := &fakeExec{handlers: map[string]func([]string) error{
			tools.ToolSilkDecoder: func([]string) error { return nil },
			tools.ToolFFmpeg:      writeLast("mp3"),
		}}
		tb := Toolbox{Exec: fx, Resolver: bareResolver{}, Logger: logger}

		err := (&RawDecodeStrategy{Toolbox: tb}).Convert(ctx, in, out)
		assert.ErrorIs(t, err, ErrEmptyOutput)
		assert.Equal(t, []string{tools.ToolSilkDecoder}, fx.toolCalls())
	})
}

func TestIsSilk(t *testing.T) {
	assert.True(t, IsSilk([]byte("#!SILK_V3abc")))
	assert.True(t, IsSilk(silkBytes()))
	assert.False(t, IsSilk([]byte("#!AMR\n")))
	assert.False(t, IsSilk(nil))
}

func hasPair(args []string, flag, value string) bool {
	i := slices.Index(args, flag)
	return i >= 0 && i+1 < len(args) && args[i+1] == value
}
