package fake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/scenecap-go/pkg/modelcache"
)

func TestFakeBackendFetchWritesMarker(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	backend := NewFakeBackend()

	m, err := backend.FetchModel(context.Background(), modelcache.FetchRequest{ModelID: "org/model", Dir: dir})
	is.NoErr(err)
	is.Equal(m.Path(), "org/model")

	_, err = os.Stat(filepath.Join(dir, "onnx", "model.onnx"))
	is.NoErr(err) // marker written
	is.Equal(len(backend.FetchCalls()), 1)
}

func TestFakeBackendWithoutMarker(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	backend := NewFakeBackend().WithoutMarker()

	_, err := backend.FetchModel(context.Background(), modelcache.FetchRequest{ModelID: "org/model", Dir: dir})
	is.NoErr(err)

	_, err = os.Stat(filepath.Join(dir, "onnx", "model.onnx"))
	is.True(os.IsNotExist(err))
}

func TestFakeBackendFetchErrorsInOrder(t *testing.T) {
	is := is.New(t)
	first := errors.New("first")
	second := errors.New("second")
	backend := NewFakeBackend().WithFetchErrors(first, second)

	_, err := backend.FetchModel(context.Background(), modelcache.FetchRequest{Dir: t.TempDir()})
	is.Equal(err, first)
	_, err = backend.FetchModel(context.Background(), modelcache.FetchRequest{Dir: t.TempDir()})
	is.Equal(err, second)
	_, err = backend.FetchModel(context.Background(), modelcache.FetchRequest{Dir: t.TempDir()})
	is.NoErr(err)
}

func TestFakeBackendDelayHonoursContext(t *testing.T) {
	is := is.New(t)
	backend := NewFakeBackend().WithDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := backend.FetchModel(ctx, modelcache.FetchRequest{Dir: t.TempDir()})
	is.True(errors.Is(err, context.DeadlineExceeded))
}

func TestFakeModelPlacement(t *testing.T) {
	is := is.New(t)
	m := &FakeModel{path: "x"}

	is.True(!m.Placed())
	want := modelcache.SelectPlacement(true)
	is.NoErr(m.To(context.Background(), want))
	is.True(m.Placed())
	is.Equal(m.Placement(), want)

	is.NoErr(m.Close())
	is.True(m.Closed())
}

func TestFakeTokenizerRoundTrip(t *testing.T) {
	is := is.New(t)
	tk := NewFakeTokenizer()

	ids, err := tk.Encode("a person walks a dog", false)
	is.NoErr(err)
	is.Equal(ids, []int{0, 1, 2, 0, 3})
	is.Equal(tk.VocabSize(), 4)
	is.Equal(tk.Decode(ids, true), "a person walks a dog")
}
