package client

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"
)

// Merge option names, also used as form field names.
const (
	OptionTrimMargin      = "trim_margin"
	OptionTrimCloseButton = "trim_close_button"
	OptionTrimTitle       = "trim_title"
)

// ImagesField is the form field shared by every image part.
const ImagesField = "images[]"

var knownOptions = map[string]bool{
	OptionTrimMargin:      true,
	OptionTrimCloseButton: true,
	OptionTrimTitle:       true,
}

// Options holds the merge flags. Every known option is always present.
type Options map[string]bool

func NewOptions() Options {
	o := make(Options, len(knownOptions))
	for name := range knownOptions {
		o[name] = false
	}
	return o
}

// Set updates a known option.
func (o Options) Set(name string, value bool) error {
	if !knownOptions[name] {
		return fmt.Errorf("unknown option %q", name)
	}
	o[name] = value
	return nil
}

func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Names returns the option names in sorted order.
func (o Options) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Payload is one merge request: the images in display order plus options.
type Payload struct {
	Images  []Image
	Options Options
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// WriteMultipart writes the image parts in order, then the options. It does
// not close w.
func (p Payload) WriteMultipart(w *multipart.Writer) error {
	for i, img := range p.Images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(ImagesField), quoteEscaper.Replace(img.Name)))
		h.Set("Content-Type", img.MimeType)

		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create part for image %d: %w", i, err)
		}
		if _, err := part.Write(img.data); err != nil {
			return fmt.Errorf("failed to write image %d: %w", i, err)
		}
	}

	for _, name := range p.Options.Names() {
		value := "0"
		if p.Options[name] {
			value = "1"
		}
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write option %s: %w", name, err)
		}
	}
	return nil
}

// Encode renders the payload as a complete multipart body.
func (p Payload) Encode() (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := p.WriteMultipart(w); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &body, w.FormDataContentType(), nil
}
