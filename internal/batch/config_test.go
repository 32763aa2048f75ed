package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/rasterwarp/internal/cog"
	"github.com/pspoerri/rasterwarp/internal/warp"
)

func TestParseJobDefaults(t *testing.T) {
	job, err := ParseJob([]byte(`
items:
  - input: /data/a.tif
`))
	require.NoError(t, err)
	task, err := job.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", task.Target.Code())
	assert.Equal(t, warp.Square(1), task.Resolution)
	assert.Equal(t, warp.Bilinear, task.Kernel)
	assert.Equal(t, cog.CompressionNone, task.Compression)
	assert.False(t, task.HasNoData)
	assert.Equal(t, "/data/a_warped.tif", task.Output)
}

func TestParseJobOverrides(t *testing.T) {
	job, err := ParseJob([]byte(`
output_dir: /out
defaults:
  target_crs: EPSG:4326
  resolution: 0.001
  kernel: cubic
  nodata: -9999
  compression: deflate
items:
  - input: /data/a.tif
  - input: /data/b.tif
    output: /elsewhere/b.tif
    target_crs: "2056"
    resolution: 10
    resolution_y: 5
    kernel: nearest
    nodata: 0
    densify: 8
    source_crs: EPSG:3857
`))
	require.NoError(t, err)

	a, err := job.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", a.Target.Code())
	assert.Equal(t, warp.Square(0.001), a.Resolution)
	assert.Equal(t, warp.Bicubic, a.Kernel)
	assert.Equal(t, cog.CompressionDeflate, a.Compression)
	assert.True(t, a.HasNoData)
	assert.Equal(t, -9999.0, a.NoData)
	assert.Equal(t, "/out/a_warped.tif", a.Output)

	b, err := job.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:2056", b.Target.Code())
	assert.Equal(t, warp.Resolution{DX: 10, DY: 5}, b.Resolution)
	assert.Equal(t, warp.Nearest, b.Kernel)
	assert.Equal(t, 0.0, b.NoData)
	assert.Equal(t, 8, b.Densify)
	assert.Equal(t, "EPSG:3857", b.SourceCRS)
	assert.Equal(t, "/elsewhere/b.tif", b.Output)
}

func TestParseJobInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":        `items: []`,
		"unknown key":  "items:\n  - input: a.tif\n    resolutoin: 3\n",
		"no input":     "items:\n  - output: b.tif\n",
		"unknown crs":  "items:\n  - input: a.tif\n    target_crs: EPSG:32632\n",
		"bad kernel":   "defaults:\n  kernel: sinc\nitems:\n  - input: a.tif\n",
		"bad codec":    "items:\n  - input: a.tif\n    compression: jpeg\n",
		"duplicate":    "items:\n  - input: /x/a.tif\n  - input: /y/b.tif\n    output: /x/a_warped.tif\n",
		"not yaml":     "items: [",
		"bad src code": "items:\n  - input: a.tif\n    source_crs: nope\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJob([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestParseJobKeepsBadResolutionForEngine(t *testing.T) {
	job, err := ParseJob([]byte("items:\n  - input: a.tif\n    resolution: -2\n"))
	require.NoError(t, err)
	task, err := job.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, warp.Square(-2), task.Resolution)
}

func TestLoadJobResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output_dir: out
ledger: runs.db
items:
  - input: src/a.tif
  - input: /abs/b.tif
`), 0o644))

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, path, job.Path())
	assert.Equal(t, filepath.Join(dir, "runs.db"), job.Ledger)
	assert.Equal(t, filepath.Join(dir, "src", "a.tif"), job.Items[0].Input)
	assert.Equal(t, "/abs/b.tif", job.Items[1].Input)

	task, err := job.Resolve(0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "a_warped.tif"), task.Output)

	_, err = LoadJob(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}
