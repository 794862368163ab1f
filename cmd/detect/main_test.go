package main

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"detectserver/internal/dto"
)

func TestBaseName(t *testing.T) {
	test.That(t, baseName("/videos/dashcam.mp4"), test.ShouldEqual, "dashcam")
	test.That(t, baseName("crash.final.jpg"), test.ShouldEqual, "crash.final")
	test.That(t, baseName("noext"), test.ShouldEqual, "noext")
}

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	sink := &dirSink{dir: dir, prefix: "clip", quiet: true}

	payload := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	err := sink.SendFrame(dto.VideoFrame{Index: 7, Image: base64.StdEncoding.EncodeToString(payload)})
	test.That(t, err, test.ShouldBeNil)

	data, err := os.ReadFile(filepath.Join(dir, "clip_00007.jpg"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, payload)

	err = sink.SendFrame(dto.VideoFrame{Index: 8, Image: "%%%"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPipeline_UnsupportedInput(t *testing.T) {
	p := &pipeline{outDir: t.TempDir(), confidence: 0.4}
	err := p.process(context.Background(), "notes.txt")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported")
}
