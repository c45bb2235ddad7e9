package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/matryer/is"

	"github.com/chriscow/scenecap-go/pkg/scene"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	is := is.New(t)
	out, err := execute(t, "version")
	is.NoErr(err)
	is.True(strings.HasPrefix(out, "scenecap version"))
}

func TestSceneNewCommand(t *testing.T) {
	is := is.New(t)

	out, err := execute(t, "scene", "new",
		"--description", "a person walks",
		"--action", "walk",
		"--object", "person",
		"--duration", "5")
	is.NoErr(err)

	var r scene.Record
	is.NoErr(json.Unmarshal([]byte(out), &r))
	is.Equal(r.Description, "a person walks")
	is.Equal(r.Actions, []string{"walk"})
	is.Equal(r.Objects, []string{"person"})
	is.Equal(len(r.TextInScene), 0)
	is.Equal(r.Language, "en")
	is.Equal(r.VideoType, "youtube")
	is.Equal(r.Duration, 5)
}

func TestModelPathCommand(t *testing.T) {
	is := is.New(t)
	root := t.TempDir()

	out, err := execute(t, "model", "path", "org/model", "--cache-root", root)
	is.NoErr(err)
	is.Equal(strings.TrimSpace(out), filepath.Join(root, "org_model"))

	out, err = execute(t, "model", "path", "org/model", "--cache-root", root, "--revision", "v1")
	is.NoErr(err)
	is.Equal(strings.TrimSpace(out), filepath.Join(root, "org_model", "v1"))
}

func TestModelAcquireWithFakeBackend(t *testing.T) {
	is := is.New(t)
	root := t.TempDir()
	args := []string{"model", "acquire", "org/model", "--backend", "fake", "--cache-root", root}

	out, err := execute(t, append(args, "--encode", "a person walks", "--prompt", "Describe the scene.")...)
	is.NoErr(err)

	var first acquireResult
	is.NoErr(json.Unmarshal([]byte(out), &first))
	is.Equal(first.CacheHit, false)
	is.Equal(first.Dir, filepath.Join(root, "org_model"))
	is.Equal(first.Device, "cpu")
	is.Equal(first.Precision, "float32")
	is.Equal(first.TokenIDs, []int{0, 1, 2})
	is.Equal(first.Prompt, "Describe the scene.")

	out, err = execute(t, "model", "status", "org/model", "--cache-root", root)
	is.NoErr(err)
	is.True(strings.Contains(out, `"cached": true`))

	out, err = execute(t, args...)
	is.NoErr(err)

	var second acquireResult
	is.NoErr(json.Unmarshal([]byte(out), &second))
	is.Equal(second.CacheHit, true)
	is.Equal(second.Marker, "onnx/model.onnx")
}

func TestModelAcquireErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown backend", []string{"model", "acquire", "org/model", "--backend", "nope"}},
		{"bad quantize", []string{"model", "acquire", "org/model", "--backend", "fake", "--quantize", "int3"}},
		{"missing id", []string{"model", "acquire"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			_, err := execute(t, append(tt.args, "--cache-root", t.TempDir())...)
			is.True(err != nil)
		})
	}
}
