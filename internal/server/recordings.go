package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/workdir"
	"github.com/gin-gonic/gin"
)

// maxRecordingBytes caps a single upload at one hour of 48kHz stereo.
const maxRecordingBytes = 48000 * 2 * 2 * 3600

type recordingResponse struct {
	Name        string `json:"name"`
	BytesRead   int64  `json:"bytesRead"`
	SampleRate  int    `json:"sampleRate"`
	Channels    int    `json:"channels"`
	Bitrate     int    `json:"bitrate"`
	Samples     int64  `json:"samples"`
	Frames      int64  `json:"frames"`
	EncodedSize int64  `json:"encodedBytes"`
}

// handleRecord streams a raw S16LE request body into a recording.
//
// Query parameters: channels (1 or 2, the layout of the body, default 1) and
// mode (write, append or overwrite, default write).
func (s *Server) handleRecord(c *gin.Context) {
	channels, err := strconv.Atoi(c.DefaultQuery("channels", "1"))
	if err != nil || (channels != 1 && channels != 2) {
		s.abort(c, http.StatusBadRequest, fmt.Errorf("channels must be 1 or 2, got %q", c.Query("channels")))
		return
	}

	flags, err := modeFlags(c.DefaultQuery("mode", "write"))
	if err != nil {
		s.abort(c, http.StatusBadRequest, err)
		return
	}

	path, err := workdir.FilePath(s.config.RecordDir, c.Param("name"), s.defaultExtension())
	if err != nil {
		s.abort(c, http.StatusBadRequest, err)
		return
	}

	if err := workdir.Prep(s.config.RecordDir); err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}

	h, err := s.registry.Open(path, flags)
	if err != nil {
		s.abort(c, statusFor(err), err)
		return
	}

	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordingBytes)
	n, copyErr := audio.CopyPCM(h, body, channels, 0)

	closeErr := h.Close()
	// counters include the padded final frame once closed
	info := h.Info()

	if copyErr != nil {
		status := statusFor(copyErr)
		var maxErr *http.MaxBytesError
		if errors.As(copyErr, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		s.abort(c, status, errors.Join(copyErr, closeErr))
		return
	}

	if closeErr != nil {
		s.abort(c, statusFor(closeErr), closeErr)
		return
	}

	c.JSON(http.StatusCreated, recordingResponse{
		Name:        workdir.Sanitize(c.Param("name")),
		BytesRead:   n,
		SampleRate:  info.SampleRate,
		Channels:    info.Channels,
		Bitrate:     info.Bitrate,
		Samples:     info.Samples,
		Frames:      info.Frames,
		EncodedSize: info.Bytes,
	})
}

func (s *Server) defaultExtension() string {
	formats := s.registry.Formats()
	if len(formats) == 0 || len(formats[0].Extensions) == 0 {
		return "mp3"
	}
	return formats[0].Extensions[0]
}

func modeFlags(mode string) (format.Flags, error) {
	switch mode {
	case "write":
		return format.FlagWrite, nil
	case "append":
		return format.FlagWrite | format.FlagAppend, nil
	case "overwrite":
		return format.FlagWrite | format.FlagOverwrite, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", mode)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, format.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, format.ErrUnknownFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, format.ErrUnsupportedParameter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, format.ErrUnsupported):
		return http.StatusMethodNotAllowed
	case errors.Is(err, format.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("recording failed", "path", c.Request.URL.Path, "error", err)
	} else {
		s.logger.Warn("recording rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
