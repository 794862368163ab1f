package media

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"detectserver/internal/dto"
)

// Prober reads container metadata for a video file.
type Prober func(path string) (dto.VideoInfo, error)

// Probe runs ffprobe on path and extracts the first video stream.
func Probe(path string) (dto.VideoInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return dto.VideoInfo{}, errors.Wrap(err, "ffprobe failed")
	}
	return ParseProbe(out)
}

// ParseProbe extracts VideoInfo from ffprobe's JSON output
// (-show_format -show_streams -of json).
func ParseProbe(probeJSON string) (dto.VideoInfo, error) {
	if !gjson.Valid(probeJSON) {
		return dto.VideoInfo{}, errors.New("invalid probe output")
	}

	stream := gjson.Get(probeJSON, `streams.#(codec_type=="video")`)
	if !stream.Exists() {
		return dto.VideoInfo{}, errors.New("no video stream found")
	}

	info := dto.VideoInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
		Codec:  stream.Get("codec_name").String(),
		FPS:    parseRate(stream.Get("avg_frame_rate").String()),
		Frames: int(stream.Get("nb_frames").Int()),
	}
	if info.FPS == 0 {
		info.FPS = parseRate(stream.Get("r_frame_rate").String())
	}

	if d := stream.Get("duration"); d.Exists() {
		info.Duration = d.Float()
	} else {
		info.Duration = gjson.Get(probeJSON, "format.duration").Float()
	}

	return info, nil
}

// parseRate converts an ffprobe rational like "30000/1001" to frames per second.
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
