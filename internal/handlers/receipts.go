package handlers

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/uma-tools/receipt-merger/internal/apierror"
	"github.com/uma-tools/receipt-merger/internal/composition"
	"github.com/uma-tools/receipt-merger/internal/staging"
)

// Form field names of a merge request.
const (
	FieldImages          = "images[]"
	FieldTrimMargin      = "trim_margin"
	FieldTrimCloseButton = "trim_close_button"
	FieldTrimTitle       = "trim_title"
)

const maxFlagBytes = 32

// HandleCreateReceipt stages the uploaded images, merges them and streams
// back the result. The staging directory is removed before any response
// is written.
func (h *Handler) HandleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	outcome := "ok"
	defer func() {
		h.metrics.RecordRequest(outcome)
	}()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		outcome = h.writeError(w, apierror.NewInvalidParameter("Invalid multipart request", err.Error()))
		return
	}

	if err := h.workers.Acquire(r.Context(), 1); err != nil {
		outcome = h.writeError(w, apierror.NewImageUploadError("Failed to upload image", err))
		return
	}
	defer h.workers.Release(1)

	var (
		merged image.Image
		token  string
		count  int
	)
	start := time.Now()
	stagingDone := h.metrics.StagingStarted()
	err = h.staging.Stage(func(req *staging.Request) error {
		token = req.Token
		slog.Info("Merge request received", "request_id", token, "remote", r.RemoteAddr, "staged", h.staging.Active())

		flags, err := h.stageParts(req, reader)
		count = req.Count()
		if err != nil {
			return err
		}
		if count == 0 {
			return apierror.NewInvalidParameter("No images uploaded", "request contained no "+FieldImages+" parts")
		}

		slog.Debug("Images staged", "request_id", token, "files", req.Files())
		merged, err = h.invoker.Invoke(r.Context(), req.Dir, flags)
		return err
	})
	stagingDone()
	h.metrics.ObserveCompose(time.Since(start), err)
	if err != nil {
		outcome = h.writeError(w, err)
		return
	}

	body, err := composition.Encode(merged)
	if err != nil {
		outcome = h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", composition.OutputMIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("Unable to write merged image", "request_id", token, "err", err)
		outcome = "write_error"
		return
	}

	slog.Info("Responded ok", "request_id", token, "images", count, "bytes", len(body))
}

// stageParts consumes the multipart body in order. Images are persisted as
// they arrive, which fixes their position in the merge.
func (h *Handler) stageParts(req *staging.Request, reader *multipart.Reader) (composition.Flags, error) {
	var flags composition.Flags

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return flags, nil
		}
		if err != nil {
			return flags, bodyError(err)
		}

		switch name := part.FormName(); name {
		case FieldImages:
			_, err = req.Persist(part.Header.Get("Content-Type"), part)
			if err == nil {
				h.metrics.ImageStaged()
			}
		case FieldTrimMargin:
			flags.TrimMargin, err = readFlag(name, part)
		case FieldTrimCloseButton:
			flags.TrimCloseButton, err = readFlag(name, part)
		case FieldTrimTitle:
			flags.TrimTitle, err = readFlag(name, part)
		default:
			slog.Debug("Ignoring unknown form field", "request_id", req.Token, "field", name)
		}
		part.Close()

		if err != nil {
			return flags, bodyError(err)
		}
	}
}

// readFlag parses integer text; any non-zero value is true.
func readFlag(name string, r io.Reader) (bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFlagBytes))
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, apierror.NewInvalidParameter("Invalid parameter "+name, err.Error())
	}
	return n != 0, nil
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierror.NewInvalidParameter("Request body too large", tooLarge.Error())
	}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return err
	}
	return apierror.NewInvalidParameter("Invalid multipart request", err.Error())
}
