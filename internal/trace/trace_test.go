package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shpdata/internal/calibration"
)

// testCal keeps raw values human-readable: 1e-6 per count on both channels.
func testCal() calibration.Calibration {
	return calibration.Calibration{
		Voltage: calibration.Pair{Gain: 1e-6},
		Current: calibration.Pair{Gain: 1e-6},
	}
}

func newWriter(t *testing.T, cfg Config) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.shp")
	if cfg.Calibration.IsZero() {
		cfg.Calibration = testCal()
	}
	if cfg.ChunkSamples == 0 {
		cfg.ChunkSamples = 16
	}
	w, err := Create(path, cfg)
	require.NoError(t, err)
	return w, path
}

func rampChunk(n int, interval int64) ([]int64, []uint32, []uint32) {
	ts := make([]int64, n)
	vs := make([]uint32, n)
	cs := make([]uint32, n)
	for i := 0; i < n; i++ {
		ts[i] = int64(i) * interval
		vs[i] = uint32(i)
		cs[i] = uint32(i * 2)
	}
	return ts, vs, cs
}

func TestCreateValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("emulator cannot record curves", func(t *testing.T) {
		_, err := Create(filepath.Join(dir, "a.shp"), Config{
			Mode: ModeEmulator, Datatype: DatatypeIVCurve,
		})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := Create(filepath.Join(dir, "b.shp"), Config{Mode: "observer"})
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("bad calibration", func(t *testing.T) {
		_, err := Create(filepath.Join(dir, "c.shp"), Config{
			Calibration: calibration.Calibration{Voltage: calibration.Pair{Gain: -1}},
		})
		assert.ErrorIs(t, err, calibration.ErrGain)
	})

	t.Run("existing file needs overwrite", func(t *testing.T) {
		path := filepath.Join(dir, "d.shp")
		w, err := Create(path, Config{})
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = Create(path, Config{})
		assert.ErrorIs(t, err, os.ErrExist)

		w, err = Create(path, Config{Overwrite: true})
		require.NoError(t, err)
		require.NoError(t, w.Close())
	})
}

func TestWriteReadRoundTrip(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	interval := w.SampleIntervalNs()

	// 40 samples against a chunk size of 16: two full chunks plus a short
	// trailing one written at Close.
	ts, vs, cs := rampChunk(40, interval)
	require.NoError(t, w.AppendRaw(ts[:10], vs[:10], cs[:10]))
	require.NoError(t, w.AppendRaw(ts[10:], vs[10:], cs[10:]))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, ModeHarvester, r.Mode())
	assert.Equal(t, DatatypeIVSample, r.Datatype())
	assert.Equal(t, 100, r.SampleRate())

	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)

	it, err := r.Read(0, -1, 0)
	require.NoError(t, err)
	var gotT []int64
	var gotV, gotC []uint32
	for it.Next() {
		ch := it.Chunk()
		gotT = append(gotT, ch.Time...)
		gotV = append(gotV, ch.Voltage...)
		gotC = append(gotC, ch.Current...)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, ts, gotT)
	assert.Equal(t, vs, gotV)
	assert.Equal(t, cs, gotC)

	ok, findings := r.IsValid()
	assert.True(t, ok, "findings: %v", findings)
	ok, findings = r.CheckTimeDiffs()
	assert.True(t, ok, "findings: %v", findings)
}

func TestReadChunkSizeInvariance(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	ts, vs, cs := rampChunk(50, w.SampleIntervalNs())
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for _, k := range []int{1, 7, 16, 50, 1000} {
		it, err := r.Read(0, -1, k)
		require.NoError(t, err)
		var got []uint32
		for it.Next() {
			got = append(got, it.Chunk().Voltage...)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, vs, got, "chunk size %d", k)
	}
}

func TestReadRange(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	ts, vs, cs := rampChunk(30, w.SampleIntervalNs())
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	t.Run("out of range clamps by default", func(t *testing.T) {
		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()

		it, err := r.Read(20, 99, 0)
		require.NoError(t, err)
		var got []uint32
		for it.Next() {
			got = append(got, it.Chunk().Voltage...)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, vs[20:], got)
	})

	t.Run("out of range fails in strict mode", func(t *testing.T) {
		r, err := Open(path, Strict())
		require.NoError(t, err)
		defer r.Close()

		_, err = r.Read(20, 99, 0)
		assert.ErrorIs(t, err, ErrRange)
	})
}

func TestAppendLengthMismatch(t *testing.T) {
	w, _ := newWriter(t, Config{SampleRateSps: 100})
	defer w.Close()

	err := w.AppendRaw([]int64{1, 2, 3}, []uint32{1, 2}, []uint32{1, 2, 3})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	// Nothing was buffered or written by the failed call.
	require.NoError(t, w.AppendRaw([]int64{1}, []uint32{9}, []uint32{9}))
	require.NoError(t, w.Close())

	r, err := Open(w.Path())
	require.NoError(t, err)
	defer r.Close()
	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSealedAttributes(t *testing.T) {
	w, _ := newWriter(t, Config{SampleRateSps: 100})
	defer w.Close()

	require.NoError(t, w.SetWindowSamples(500))
	assert.Equal(t, 500, w.WindowSamples())
	require.NoError(t, w.SetCalibration(testCal()))

	require.NoError(t, w.AppendRaw([]int64{0}, []uint32{1}, []uint32{1}))

	assert.ErrorIs(t, w.SetWindowSamples(1000), ErrSealed)
	assert.ErrorIs(t, w.SetCalibration(testCal()), ErrSealed)

	// The hostname does not affect sample semantics and stays writable.
	assert.NoError(t, w.SetHostname("sheep7"))
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	w, _ := newWriter(t, Config{SampleRateSps: 100})
	require.NoError(t, w.AppendRaw([]int64{0}, []uint32{1}, []uint32{1}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.AppendRaw([]int64{1}, []uint32{1}, []uint32{1}), ErrClosed)
}

func TestAppendSI(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	require.NoError(t, w.AppendSI([]int64{0, 10_000_000}, []float64{3.3, 3.3}, []float64{0.001, 0.002}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	it, err := r.Read(0, -1, 0)
	require.NoError(t, err)
	require.True(t, it.Next())
	si, err := r.RawToSI(it.Chunk())
	require.NoError(t, err)
	assert.InDelta(t, 3.3, si.Voltage[0], 1e-6)
	assert.InDelta(t, 0.001, si.Current[0], 1e-6)
	assert.InDelta(t, 0.002, si.Current[1], 1e-6)
}

func TestEnergyConstantLoad(t *testing.T) {
	// 1000 samples at 100 sps of a constant 3.3 V / 1 mA load are ten
	// seconds at 3.3 mW: 33 mJ.
	w, path := newWriter(t, Config{SampleRateSps: 100})
	n := 1000
	vs := make([]uint32, n)
	cs := make([]uint32, n)
	for i := range vs {
		vs[i] = 3_300_000 // 3.3 V at 1e-6 gain
		cs[i] = 1_000     // 1 mA
	}
	require.NoError(t, w.AppendRawAt(0, vs, cs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	energy, err := r.Energy()
	require.NoError(t, err)
	assert.InDelta(t, 3.3e-2, energy, 3.3e-4)

	stats, err := r.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.SampleCount)
	assert.InDelta(t, 10.0, stats.Duration.Seconds(), 1e-9)
	assert.Greater(t, stats.FileSize, int64(0))
}

func TestEnergyCurveWindows(t *testing.T) {
	// Two windows of 4 samples each; the ideal tracker harvests the max
	// power point of every window for the window's duration.
	w, path := newWriter(t, Config{
		Datatype:      DatatypeIVCurve,
		WindowSamples: 4,
		SampleRateSps: 100,
	})
	interval := w.SampleIntervalNs()
	ts := make([]int64, 8)
	for i := range ts {
		ts[i] = int64(i) * interval
	}
	// Max power per window: 2e6*1e-6 * 2e3*1e-6 = 4e-3 W, both windows.
	vs := []uint32{1e6, 2e6, 1e6, 0, 2e6, 1e6, 0, 0}
	cs := []uint32{1e3, 2e3, 1e3, 0, 2e3, 1e3, 0, 0}
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	// Each window spans 4 * 10 ms at 4 mW.
	energy, err := r.Energy()
	require.NoError(t, err)
	assert.InDelta(t, 2*0.04*4e-3, energy, 1e-9)
}

func TestIsValidFindings(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	interval := w.SampleIntervalNs()
	ts, vs, cs := rampChunk(20, interval)
	ts[12] = ts[11] - interval // backward jump
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	t.Run("default open warns but reads", func(t *testing.T) {
		r, err := Open(path)
		require.NoError(t, err)
		defer r.Close()

		ok, findings := r.IsValid()
		assert.False(t, ok)
		assert.NotEmpty(t, findings)

		it, err := r.Read(0, -1, 0)
		require.NoError(t, err)
		var got int
		for it.Next() {
			got += it.Chunk().Len()
		}
		require.NoError(t, it.Err())
		assert.Equal(t, 20, got)
	})

	t.Run("strict open fails", func(t *testing.T) {
		_, err := Open(path, Strict())
		assert.ErrorIs(t, err, ErrIntegrity)
	})
}

func TestIndexAt(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	ts, vs, cs := rampChunk(50, w.SampleIntervalNs())
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	idx, err := r.IndexAt(ts[30])
	require.NoError(t, err)
	assert.Equal(t, int64(30), idx)

	idx, err = r.IndexAt(ts[30] + 1)
	require.NoError(t, err)
	assert.Equal(t, int64(31), idx)

	idx, err = r.IndexAt(ts[49] + 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(50), idx)
}

func TestDownsample(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	interval := w.SampleIntervalNs()
	n := 100
	ts := make([]int64, n)
	vs := make([]uint32, n)
	cs := make([]uint32, n)
	for i := range ts {
		ts[i] = int64(i) * interval
		vs[i] = uint32(i)
		cs[i] = []uint32{10, 20, 30, 40}[i%4]
	}
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	t.Run("mean", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "mean.shp")
		dst, err := Create(out, Config{
			SampleRateSps: 25, Calibration: testCal(), ChunkSamples: 16,
		})
		require.NoError(t, err)
		require.NoError(t, r.Downsample(dst, 4, AggMean))
		require.NoError(t, dst.Close())

		dr, err := Open(out)
		require.NoError(t, err)
		defer dr.Close()

		dn, err := dr.Len()
		require.NoError(t, err)
		assert.Equal(t, int64(n/4), dn)

		it, err := dr.Read(0, -1, 0)
		require.NoError(t, err)
		var gotT []int64
		var gotC []uint32
		for it.Next() {
			gotT = append(gotT, it.Chunk().Time...)
			gotC = append(gotC, it.Chunk().Current...)
		}
		require.NoError(t, it.Err())
		// Every window covers one full 10/20/30/40 cycle: mean 25, and the
		// output timestamp is the window's first input timestamp.
		for i := range gotC {
			assert.Equal(t, uint32(25), gotC[i], "window %d", i)
			assert.Equal(t, ts[i*4], gotT[i], "window %d", i)
		}
	})

	t.Run("minmax alternates", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "minmax.shp")
		dst, err := Create(out, Config{
			SampleRateSps: 10, Calibration: testCal(), ChunkSamples: 16,
		})
		require.NoError(t, err)
		require.NoError(t, r.Downsample(dst, 10, AggMinMax))
		require.NoError(t, dst.Close())

		dr, err := Open(out)
		require.NoError(t, err)
		defer dr.Close()

		it, err := dr.Read(0, -1, 0)
		require.NoError(t, err)
		var gotV []uint32
		for it.Next() {
			gotV = append(gotV, it.Chunk().Voltage...)
		}
		require.NoError(t, it.Err())
		require.Len(t, gotV, 10)
		for i, v := range gotV {
			want := uint32(i * 10) // window minimum
			if i%2 == 1 {
				want = uint32(i*10 + 9) // window maximum
			}
			assert.Equal(t, want, v, "window %d", i)
		}
	})

	t.Run("factor one copies", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "copy.shp")
		dst, err := Create(out, Config{
			SampleRateSps: 100, Calibration: testCal(), ChunkSamples: 16,
		})
		require.NoError(t, err)
		require.NoError(t, r.Downsample(dst, 1, AggMean))
		require.NoError(t, dst.Close())

		dr, err := Open(out)
		require.NoError(t, err)
		defer dr.Close()
		dn, err := dr.Len()
		require.NoError(t, err)
		assert.Equal(t, int64(n), dn)
	})

	t.Run("bad factor", func(t *testing.T) {
		assert.Error(t, r.Downsample(nil, 0, AggMean))
	})
}

func TestExcerpt(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	interval := w.SampleIntervalNs()
	ts, vs, cs := rampChunk(100, interval)
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.AppendGpio(
		[]int64{ts[5], ts[30], ts[80]},
		[]uint32{1, 0, 1},
	))
	require.NoError(t, w.AppendLog("dmesg", ts[25], "inside"))
	require.NoError(t, w.AppendLog("dmesg", ts[90], "outside"))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	out := filepath.Join(t.TempDir(), "cut.shp")
	dst, err := Create(out, Config{
		SampleRateSps: 100, Calibration: testCal(), ChunkSamples: 16,
	})
	require.NoError(t, err)
	require.NoError(t, r.Excerpt(dst, 20, 50))
	require.NoError(t, dst.Close())

	dr, err := Open(out)
	require.NoError(t, err)
	defer dr.Close()

	n, err := dr.Len()
	require.NoError(t, err)
	assert.Equal(t, int64(30), n)

	it, err := dr.Read(0, 1, 0)
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, ts[20], it.Chunk().Time[0])

	// Only the GPIO event and log record inside the span survive.
	edges, err := dr.GpioEdges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, ts[30], edges[0].TimeNs)

	recs, err := dr.Logs("dmesg")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inside", recs[0].Message)
}

func TestParseAgg(t *testing.T) {
	a, err := ParseAgg("")
	require.NoError(t, err)
	assert.Equal(t, AggMean, a)
	_, err = ParseAgg("median")
	assert.Error(t, err)
}

func TestSaveMetadata(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	ts, vs, cs := rampChunk(20, w.SampleIntervalNs())
	require.NoError(t, w.AppendRaw(ts, vs, cs))
	require.NoError(t, w.SetConfig(map[string]any{"source": "lab-bench"}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	dst, err := r.SaveMetadata("", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "test.yml"), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mode: harvester")
	assert.Contains(t, string(data), "voltage")
	assert.Contains(t, string(data), "lab-bench")

	_, err = r.SaveMetadata("", false)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestGpioDecoding(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	require.NoError(t, w.AppendRaw([]int64{0}, []uint32{1}, []uint32{1}))

	// "Hi" as 8N1 on pin 2 at 9600 baud: idle high, low start bit, data
	// bits LSB first, high stop bit.
	const period = 104_167
	const mask = uint32(1) << 2
	var gts []int64
	var gvs []uint32
	emit := func(t int64, high bool) {
		v := uint32(0)
		if high {
			v = mask
		}
		if len(gvs) > 0 && gvs[len(gvs)-1] == v {
			return
		}
		gts = append(gts, t)
		gvs = append(gvs, v)
	}
	emit(0, true)
	start := int64(10 * period)
	for _, b := range []byte("Hi") {
		bits := []bool{false}
		for k := 0; k < 8; k++ {
			bits = append(bits, b&(1<<k) != 0)
		}
		bits = append(bits, true, true)
		for i, bit := range bits {
			emit(start+int64(i)*period, bit)
		}
		start += int64(len(bits)) * period
	}
	require.NoError(t, w.AppendGpio(gts, gvs))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	waves, err := r.GpioToWaveforms()
	require.NoError(t, err)
	require.Contains(t, waves, 2)

	decoded, err := r.GpioToUart(9600)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, byte('H'), decoded[0].Value)
	assert.Equal(t, byte('i'), decoded[1].Value)
}

func TestGpioMissingIsEmpty(t *testing.T) {
	w, path := newWriter(t, Config{SampleRateSps: 100})
	require.NoError(t, w.AppendRaw([]int64{0}, []uint32{1}, []uint32{1}))
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	edges, err := r.GpioEdges()
	require.NoError(t, err)
	assert.Empty(t, edges)

	decoded, err := r.GpioToUart(9600)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
