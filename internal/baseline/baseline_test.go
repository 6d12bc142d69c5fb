package baseline

import (
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// texturedMat builds a deterministic pseudo-random frame with enough
// structure for feature matching.
func texturedMat(t *testing.T) gocv.Mat {
	t.Helper()
	const size = 128
	buf := make([]byte, size*size)
	seed := uint32(2463534242)
	for i := range buf {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		buf[i] = byte(seed)
	}
	gray, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, buf)
	require.NoError(t, err)
	defer gray.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)
	t.Cleanup(func() { bgr.Close() })
	return bgr
}

func TestSSIMIdenticalFrames(t *testing.T) {
	img := texturedMat(t)
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	assert.InDelta(t, 1.0, ssim(gray, gray), 0.01)
}

func TestComparatorIdenticalFrame(t *testing.T) {
	ref := texturedMat(t)
	cmp, err := NewComparator(ref, DefaultComparatorOptions())
	require.NoError(t, err)
	defer cmp.Close()

	f, err := cmp.Detect(ref, detect.LevelStandard)
	require.NoError(t, err)

	assert.False(t, f.IsAbnormal)
	assert.Equal(t, detect.NormalIssue("baseline"), f.IssueType)
	assert.Greater(t, f.Evidence["ssim"].(float64), 0.95)
}

func TestComparatorDivergentFrame(t *testing.T) {
	ref := texturedMat(t)
	cmp, err := NewComparator(ref, DefaultComparatorOptions())
	require.NoError(t, err)
	defer cmp.Close()

	black := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), ref.Rows(), ref.Cols(), gocv.MatTypeCV8UC3)
	defer black.Close()

	f, err := cmp.Detect(black, detect.LevelStandard)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "baseline_mismatch", f.IssueType)
}

func TestComparatorResizesTarget(t *testing.T) {
	ref := texturedMat(t)
	cmp, err := NewComparator(ref, DefaultComparatorOptions())
	require.NoError(t, err)
	defer cmp.Close()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(ref, &small, image.Pt(ref.Cols()/2, ref.Rows()/2), 0, 0, gocv.InterpolationArea)

	_, err = cmp.Detect(small, detect.LevelStandard)
	assert.NoError(t, err)
}

func TestComparatorRejectsEmptyReference(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()
	_, err := NewComparator(empty, DefaultComparatorOptions())
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	img := texturedMat(t)
	id, err := store.Save(img, "lobby", "front door camera", []string{"indoor"})
	require.NoError(t, err)

	rec, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "lobby", rec.Name)
	assert.Equal(t, []string{"indoor"}, rec.Tags)

	loaded, err := store.GetImage(id)
	require.NoError(t, err)
	defer loaded.Close()
	assert.Equal(t, img.Rows(), loaded.Rows())
	assert.Equal(t, img.Cols(), loaded.Cols())

	newName := "entrance"
	updated, err := store.Update(id, &newName, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "entrance", updated.Name)
	assert.Equal(t, "front door camera", updated.Description)

	assert.Len(t, store.List(), 1)

	require.NoError(t, store.Delete(id))
	_, err = store.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUnknownID(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, err = store.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetImage("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("ghost"), ErrNotFound)
}
